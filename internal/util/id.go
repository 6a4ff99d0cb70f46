package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, prefixed as "<prefix>_<hex>" when prefix is
// set.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewToken returns an opaque random token for invitation links.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
