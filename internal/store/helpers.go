package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
)

const contactColumns = `id, phone, name, date_of_birth, medical_aid, medical_aid_number,
	registration_complete, last_interaction, conversation, created_at, updated_at`

const orderColumns = `id, contact_id, order_number, type, script_number, script_image_url,
	medications, delivery_method, address_kind, address, status, created_at`

// contactRow is the SQL-ready shape of a contact. Zero times map to NULL so
// both backends agree on "never set".
type contactRow struct {
	id                   string
	phone                string
	name                 string
	dateOfBirth          sql.NullTime
	medicalAid           string
	medicalAidNumber     string
	registrationComplete bool
	lastInteraction      sql.NullTime
	conversation         string
	createdAt            time.Time
	updatedAt            time.Time
}

func contactRecord(c models.Contact) (contactRow, error) {
	conv, err := json.Marshal(c.Conversation)
	if err != nil {
		return contactRow{}, err
	}
	return contactRow{
		id:                   c.ID,
		phone:                c.Phone,
		name:                 c.Name,
		dateOfBirth:          nullTime(c.DateOfBirth),
		medicalAid:           c.MedicalAid,
		medicalAidNumber:     c.MedicalAidNumber,
		registrationComplete: c.RegistrationComplete,
		lastInteraction:      nullTime(c.LastInteraction),
		conversation:         string(conv),
		createdAt:            c.CreatedAt.UTC(),
		updatedAt:            c.UpdatedAt.UTC(),
	}, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var (
		c               models.Contact
		dob, lastSeen   sql.NullTime
		conversationRaw string
	)
	err := row.Scan(&c.ID, &c.Phone, &c.Name, &dob, &c.MedicalAid, &c.MedicalAidNumber,
		&c.RegistrationComplete, &lastSeen, &conversationRaw, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if dob.Valid {
		c.DateOfBirth = dob.Time
	}
	if lastSeen.Valid {
		c.LastInteraction = lastSeen.Time
	}
	if conversationRaw != "" {
		if err := json.Unmarshal([]byte(conversationRaw), &c.Conversation); err != nil {
			return nil, fmt.Errorf("decode conversation state: %w", err)
		}
	}
	return &c, nil
}

func collectContacts(rows *sql.Rows) ([]models.Contact, error) {
	var out []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                           models.Order
		typ, delivery, kind, status string
	)
	err := row.Scan(&o.ID, &o.ContactID, &o.OrderNumber, &typ, &o.ScriptNumber, &o.ScriptImageURL,
		&o.Medications, &delivery, &kind, &o.Address, &status, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Type = models.OrderType(typ)
	o.DeliveryMethod = models.DeliveryMethod(delivery)
	o.AddressKind = models.AddressKind(kind)
	o.Status = models.OrderStatus(status)
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}
