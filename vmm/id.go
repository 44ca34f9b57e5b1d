package vmm

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// idPattern matches the filename-safe jail-ID alphabet: ASCII letters,
// digits, hyphens and underscores. A jail ID becomes a path component under
// the chroot base directory, so anything that could traverse a directory or
// collide with a shell metacharacter is rejected outright.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ID is a validated jail identifier: non-empty and filename-safe, used both
// as the jailer's --id argument and as the chroot subdirectory name.
// Uniqueness is the caller's responsibility — the spec explicitly declines
// to provide inter-process locking against colliding jail IDs — so
// NewRandomID is the recommended constructor.
type ID string

// NewID validates s as a jail ID, rejecting empty strings and anything
// outside the filename-safe alphabet.
func NewID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("vmm: jail id must not be empty")
	}
	if !idPattern.MatchString(s) {
		return "", fmt.Errorf("vmm: jail id %q contains characters outside [A-Za-z0-9_-]", s)
	}
	return ID(s), nil
}

// NewRandomID generates a fresh random jail ID via a UUIDv4, matching the
// spec's recommendation that callers use a UUID to avoid jail collisions.
func NewRandomID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }
