package util

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator hands out record identifiers. Ids only need to be unique within
// one form session.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the default generator backed by random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Sequence yields prefix-1, prefix-2, ... and is safe for concurrent use.
type Sequence struct {
	Prefix string

	mu   sync.Mutex
	next int
}

func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	prefix := s.Prefix
	if prefix == "" {
		prefix = "item"
	}
	return prefix + "-" + strconv.Itoa(s.next)
}

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
