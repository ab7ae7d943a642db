package models

import "time"

// ValueKind discriminates the type of a scratch field value. The kind a field
// produces is fixed by the catalog step that collects it, so terminal actions
// can commit scratch exhaustively instead of guessing at an open-ended map.
type ValueKind string

const (
	// ValueText is free-form text accepted verbatim.
	ValueText ValueKind = "text"
	// ValueDate is a parsed calendar date.
	ValueDate ValueKind = "date"
	// ValueToken is a canonical option token from an enumerated choice.
	ValueToken ValueKind = "token"
	// ValueBlob is a reference to an uploaded attachment (e.g. a script photo).
	ValueBlob ValueKind = "blob"
	// ValueAbsent marks an optional field the contact explicitly skipped.
	ValueAbsent ValueKind = "absent"
)

// FieldValue is a tagged union holding one collected field. Exactly one of the
// payload fields is meaningful, selected by Kind.
type FieldValue struct {
	Kind  ValueKind `json:"kind"`
	Text  string    `json:"text,omitempty"`
	Date  time.Time `json:"date,omitempty"`
	Token string    `json:"token,omitempty"`
	URL   string    `json:"url,omitempty"`
}

// TextValue wraps free text.
func TextValue(s string) FieldValue { return FieldValue{Kind: ValueText, Text: s} }

// DateValue wraps a parsed date.
func DateValue(t time.Time) FieldValue { return FieldValue{Kind: ValueDate, Date: t} }

// TokenValue wraps a canonical choice token.
func TokenValue(s string) FieldValue { return FieldValue{Kind: ValueToken, Token: s} }

// BlobValue wraps an attachment reference.
func BlobValue(url string) FieldValue { return FieldValue{Kind: ValueBlob, URL: url} }

// AbsentValue marks an explicitly skipped optional field.
func AbsentValue() FieldValue { return FieldValue{Kind: ValueAbsent} }

// Absent reports whether the value marks a skipped field.
func (v FieldValue) Absent() bool { return v.Kind == ValueAbsent }

// String returns the human-readable payload of the value. Dates render in the
// same DD/MM/YYYY shape they were collected in.
func (v FieldValue) String() string {
	switch v.Kind {
	case ValueText:
		return v.Text
	case ValueDate:
		return v.Date.Format("02/01/2006")
	case ValueToken:
		return v.Token
	case ValueBlob:
		return v.URL
	default:
		return ""
	}
}
