package core

import "github.com/google/uuid"

// UUIDGen is the default IdGen, producing random UUIDv4 strings.
type UUIDGen struct{}

// NewID returns a new random UUID.
func (UUIDGen) NewID() string {
	return uuid.NewString()
}
