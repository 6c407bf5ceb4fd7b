package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContactStatus enumerates the contact lifecycle.
type ContactStatus string

const (
	// ContactStatusPending marks a contact eligible for distribution.
	ContactStatusPending ContactStatus = "pending"
	// ContactStatusCalled marks a contact claimed by exactly one agent.
	ContactStatusCalled ContactStatus = "called"
	// ContactStatusQualified marks a contact dispositioned by an agent.
	ContactStatusQualified ContactStatus = "qualified"
)

// Names of the standard contact fields, usable in rules and dedup configs
// alongside custom field ids.
const (
	FieldPhoneNumber = "phoneNumber"
	FieldFirstName   = "firstName"
	FieldLastName    = "lastName"
	FieldPostalCode  = "postalCode"
)

// Contact is a single dialable record. It belongs to exactly one campaign for
// its whole lifetime.
type Contact struct {
	ID           uuid.UUID
	CampaignID   uuid.UUID
	PhoneNumber  string
	FirstName    string
	LastName     string
	PostalCode   string
	CustomFields map[string]string
	Status       ContactStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FieldValue resolves a field name against the standard fields first, then
// the custom fields. The second return reports whether the field exists.
func (c *Contact) FieldValue(name string) (string, bool) {
	switch name {
	case FieldPhoneNumber:
		return c.PhoneNumber, true
	case FieldFirstName:
		return c.FirstName, true
	case FieldLastName:
		return c.LastName, true
	case FieldPostalCode:
		return c.PostalCode, true
	}
	v, ok := c.CustomFields[name]
	return v, ok
}
