package flow

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
)

// Rejection reasons returned by ValidateField. They are user-correctable: the
// engine re-prompts and never discards previously collected scratch data.
var (
	ErrEmptyInput    = errors.New("input cannot be empty")
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidChoice = errors.New("invalid choice")
)

// MinDateYear is the oldest year accepted for date fields.
const MinDateYear = 1900

var datePattern = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)

// ValidateField parses raw input according to the step's field type. It
// performs no I/O and mutates nothing; the engine applies side effects only
// after a successful validation.
func ValidateField(step *Step, raw string, now time.Time) (models.FieldValue, error) {
	raw = strings.TrimSpace(raw)
	switch step.Type {
	case FieldText:
		if raw == "" {
			return models.FieldValue{}, ErrEmptyInput
		}
		return models.TextValue(raw), nil

	case FieldDate:
		return validateDate(raw, now)

	case FieldChoice:
		token, ok := matchChoice(step, raw)
		if !ok {
			return models.FieldValue{}, ErrInvalidChoice
		}
		return models.TokenValue(token), nil

	case FieldOptional:
		if raw == "" {
			return models.FieldValue{}, ErrEmptyInput
		}
		if strings.EqualFold(raw, step.SkipToken) {
			return models.AbsentValue(), nil
		}
		return models.TextValue(raw), nil

	default:
		return models.FieldValue{}, ErrInvalidChoice
	}
}

// validateDate enforces the exact DD/MM/YYYY shape, a real calendar date, a
// sane historical year and strict pastness.
func validateDate(raw string, now time.Time) (models.FieldValue, error) {
	if !datePattern.MatchString(raw) {
		return models.FieldValue{}, ErrInvalidDate
	}
	t, err := time.ParseInLocation("02/01/2006", raw, time.UTC)
	if err != nil {
		return models.FieldValue{}, ErrInvalidDate
	}
	// time.Parse normalizes overflows like 31/02, so require a round trip.
	if t.Format("02/01/2006") != raw {
		return models.FieldValue{}, ErrInvalidDate
	}
	if t.Year() < MinDateYear {
		return models.FieldValue{}, ErrInvalidDate
	}
	// Compare whole days so today is rejected regardless of the time of day.
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !t.Before(today) {
		return models.FieldValue{}, ErrInvalidDate
	}
	return models.DateValue(t), nil
}

// matchChoice resolves input against a choice step's declared options in the
// step's configured input mode: canonical tokens match case-sensitively,
// numeric input is a 1-based index into the option list.
func matchChoice(step *Step, raw string) (string, bool) {
	mode := step.Mode
	if mode == "" {
		mode = InputEither
	}
	if mode == InputTokens || mode == InputEither {
		for _, opt := range step.Options {
			if opt == raw {
				return opt, true
			}
		}
	}
	if mode == InputNumbers || mode == InputEither {
		if idx, err := strconv.Atoi(raw); err == nil && idx >= 1 && idx <= len(step.Options) {
			return step.Options[idx-1], true
		}
	}
	return "", false
}
