package domain

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// RecordIDLength is the length of every generated record identifier.
const RecordIDLength = 32

// NewRecordID returns a random 32-character lower-case hex identifier.
// It is the hyphen-less form of a version 4 UUID, so it is unique per call.
func NewRecordID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// IsRecordID reports whether s has the shape of an identifier produced by NewRecordID.
func IsRecordID(s string) bool {
	if len(s) != RecordIDLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
