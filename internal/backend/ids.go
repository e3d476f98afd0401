package backend

import "github.com/google/uuid"

// IDGenerator produces unique ids for runs and task tokens.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 strings.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7. It falls back to a random UUIDv4 if the
// system clock cannot be read.
func (UUIDv7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// WorkerIdentity returns the identity a poller reports to the backend.
func WorkerIdentity(prefix string, ids IDGenerator) string {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	if prefix == "" {
		prefix = "guflow"
	}
	return prefix + "-" + ids.Generate()
}
