package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/pharmflow/pharmflow/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Connection pool sizing for the PostgreSQL backend.
const (
	pgMaxOpenConns    = 25
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 5 * time.Minute
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const pgUniqueViolation = "23505"

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL using the configured DSN and
// applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres store: DSN is required")
	}
	slog.Debug("PostgresStore connecting")

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}
	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres store: apply migrations: %w", err)
	}
	slog.Info("PostgresStore database ready")
	return &PostgresStore{db: db}, nil
}

// GetContact returns the contact keyed by phone, or nil if unseen.
func (s *PostgresStore) GetContact(phone string) (*models.Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE phone = $1`, phone)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get contact: %w", err)
	}
	return c, nil
}

// SaveContact inserts or replaces the contact record keyed by phone.
func (s *PostgresStore) SaveContact(c models.Contact) error {
	rec, err := contactRecord(c)
	if err != nil {
		return fmt.Errorf("postgres store: encode contact: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO contacts (`+contactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (phone) DO UPDATE SET
			name = EXCLUDED.name,
			date_of_birth = EXCLUDED.date_of_birth,
			medical_aid = EXCLUDED.medical_aid,
			medical_aid_number = EXCLUDED.medical_aid_number,
			registration_complete = EXCLUDED.registration_complete,
			last_interaction = EXCLUDED.last_interaction,
			conversation = EXCLUDED.conversation,
			updated_at = EXCLUDED.updated_at`,
		rec.id, rec.phone, rec.name, rec.dateOfBirth, rec.medicalAid, rec.medicalAidNumber,
		rec.registrationComplete, rec.lastInteraction, rec.conversation, rec.createdAt, rec.updatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: save contact: %w", err)
	}
	return nil
}

// ListContacts returns every contact.
func (s *PostgresStore) ListContacts() ([]models.Contact, error) {
	rows, err := s.db.Query(`SELECT ` + contactColumns + ` FROM contacts`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list contacts: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

// CreateOrder persists a new order, mapping order-number collisions to
// ErrDuplicateOrderNumber.
func (s *PostgresStore) CreateOrder(o models.Order) error {
	_, err := s.db.Exec(`INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.ContactID, o.OrderNumber, string(o.Type), o.ScriptNumber, o.ScriptImageURL,
		o.Medications, string(o.DeliveryMethod), string(o.AddressKind), o.Address,
		string(o.Status), o.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("postgres store: create order: %w", err)
	}
	return nil
}

// ListOrders returns a contact's orders, newest first, capped at limit.
func (s *PostgresStore) ListOrders(contactID string, limit int) ([]models.Order, error) {
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders
		WHERE contact_id = $1 ORDER BY created_at DESC LIMIT $2`, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error { return s.db.Close() }
