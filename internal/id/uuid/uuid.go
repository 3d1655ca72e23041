// Package uuid generates task identifiers.
package uuid

import (
	"github.com/google/uuid"
)

// Generator creates random UUIDv4 strings. Task ids are the only handle on a
// stream, so they carry no timestamp or sequence.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv4 string with 122 random bits. Like uuid.New it
// panics if the system random source fails.
func (Generator) NewID() string {
	return uuid.New().String()
}
