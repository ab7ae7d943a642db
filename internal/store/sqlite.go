package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pharmflow/pharmflow/internal/models"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store backed by an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the SQLite database at the
// configured DSN and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlite store: DSN is required")
	}
	slog.Debug("SQLiteStore opening database", "dsn", cfg.DSN)

	if dir := filepath.Dir(cfg.DSN); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DSN+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: apply migrations: %w", err)
	}
	slog.Info("SQLiteStore database ready", "dsn", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

// GetContact returns the contact keyed by phone, or nil if unseen.
func (s *SQLiteStore) GetContact(phone string) (*models.Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE phone = ?`, phone)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get contact: %w", err)
	}
	return c, nil
}

// SaveContact inserts or replaces the contact record keyed by phone.
func (s *SQLiteStore) SaveContact(c models.Contact) error {
	rec, err := contactRecord(c)
	if err != nil {
		return fmt.Errorf("sqlite store: encode contact: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO contacts (`+contactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			name = excluded.name,
			date_of_birth = excluded.date_of_birth,
			medical_aid = excluded.medical_aid,
			medical_aid_number = excluded.medical_aid_number,
			registration_complete = excluded.registration_complete,
			last_interaction = excluded.last_interaction,
			conversation = excluded.conversation,
			updated_at = excluded.updated_at`,
		rec.id, rec.phone, rec.name, rec.dateOfBirth, rec.medicalAid, rec.medicalAidNumber,
		rec.registrationComplete, rec.lastInteraction, rec.conversation, rec.createdAt, rec.updatedAt)
	if err != nil {
		return fmt.Errorf("sqlite store: save contact: %w", err)
	}
	return nil
}

// ListContacts returns every contact.
func (s *SQLiteStore) ListContacts() ([]models.Contact, error) {
	rows, err := s.db.Query(`SELECT ` + contactColumns + ` FROM contacts`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list contacts: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

// CreateOrder persists a new order, mapping order-number collisions to
// ErrDuplicateOrderNumber.
func (s *SQLiteStore) CreateOrder(o models.Order) error {
	_, err := s.db.Exec(`INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ContactID, o.OrderNumber, string(o.Type), o.ScriptNumber, o.ScriptImageURL,
		o.Medications, string(o.DeliveryMethod), string(o.AddressKind), o.Address,
		string(o.Status), o.CreatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "orders.order_number") {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("sqlite store: create order: %w", err)
	}
	return nil
}

// ListOrders returns a contact's orders, newest first, capped at limit.
func (s *SQLiteStore) ListOrders(contactID string, limit int) ([]models.Order, error) {
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders
		WHERE contact_id = ? ORDER BY created_at DESC LIMIT ?`, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
