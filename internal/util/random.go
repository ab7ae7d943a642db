// Package util provides identifier and environment helpers shared across
// PharmFlow components.
package util

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// orderNumberLength is the random portion of a generated order number.
const orderNumberLength = 8

// GenerateRandomToken generates a random uppercase alphanumeric string of the
// given length. Ambiguous characters (0/O, 1/I) are excluded because order
// numbers are read back over the phone.
func GenerateRandomToken(length int) string {
	const chars = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(chars[rand.IntN(len(chars))])
	}
	return b.String()
}

// GenerateOrderNumber generates a human-quotable order number like
// "PF-7K2MNQ4X". Uniqueness is enforced by the repository, not here; the
// finalizer regenerates on conflict.
func GenerateOrderNumber() string {
	return "PF-" + GenerateRandomToken(orderNumberLength)
}

// GenerateContactID generates a unique contact identifier.
func GenerateContactID() string {
	return "c_" + uuid.NewString()
}

// GenerateOrderID generates a unique order identifier.
func GenerateOrderID() string {
	return "o_" + uuid.NewString()
}
