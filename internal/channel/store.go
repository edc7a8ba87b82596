package channel

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Store holds the live channel identifier. Readers see either the previous or
// the new identifier, never a partial update.
type Store struct {
	identifier atomic.Pointer[string]
}

// NewStore returns a store holding identifier.
func NewStore(identifier string) *Store {
	s := &Store{}
	s.identifier.Store(&identifier)
	return s
}

// Identifier returns the live channel identifier, or "" if none is known.
func (s *Store) Identifier() string {
	id := s.identifier.Load()
	if id == nil {
		return ""
	}
	return *id
}

// Update replaces the live channel identifier. Logs at info level when the
// identifier changes, debug otherwise. Returns whether it changed.
func (s *Store) Update(identifier string) bool {
	previous := s.identifier.Swap(&identifier)

	if previous != nil && *previous == identifier {
		log.Debug().Str("channel", identifier).Msg("channel identity: no change detected")
		return false
	}

	ev := log.Info().Str("channel", identifier)
	if previous != nil && *previous != "" {
		ev = ev.Str("previous", *previous)
	}
	ev.Msg("channel identity: updated")

	return true
}
