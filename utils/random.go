package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateCode returns 2n uppercase hex characters from a CSPRNG. Used for
// payment idempotency keys and reference codes.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// NewRecordID returns a 15 character lowercase alphanumeric id, the shape
// PocketBase uses for record ids. The ledger needs the id before the record
// exists so the atomic slot claim can carry it.
func NewRecordID() (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

	id := make([]byte, 15)
	if _, err := rand.Read(id); err != nil {
		return "", err
	}
	for i := range id {
		id[i] = charset[int(id[i])%len(charset)]
	}
	return string(id), nil
}

// NormalizePhone converts Kenyan phone number spellings (07XXXXXXXX,
// +2547XXXXXXXX, 7XXXXXXXX) to the 2547XXXXXXXX form the provider expects.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "+")
	p = strings.ReplaceAll(p, " ", "")

	switch {
	case strings.HasPrefix(p, "254") && len(p) == 12:
		return p, nil
	case strings.HasPrefix(p, "0") && len(p) == 10:
		return "254" + p[1:], nil
	case strings.HasPrefix(p, "7") && len(p) == 9:
		return "254" + p, nil
	case strings.HasPrefix(p, "1") && len(p) == 9:
		return "254" + p, nil
	}
	return "", fmt.Errorf("invalid phone number: %q", phone)
}
