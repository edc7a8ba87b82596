package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks runs cleanup steps once the server has stopped accepting
// requests. Hooks run in the order they were added; a failing hook does not
// prevent later hooks from running.
type ShutdownHooks struct {
	hooks []hook
}

// Add registers a named hook. Nil hooks are ignored with a warning.
func (s *ShutdownHooks) Add(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil shutdown hook")
		return
	}

	log.Debug().Str("hook", name).Msg("shutdown hook registered")
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// AddCloser registers a hook that closes c. Nil closers are ignored with a
// warning.
func (s *ShutdownHooks) AddCloser(name string, c io.Closer) {
	if c == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil shutdown hook")
		return
	}

	s.Add(name, func(context.Context) error { return c.Close() })
}

// Len is the number of registered hooks.
func (s *ShutdownHooks) Len() int {
	return len(s.hooks)
}

// Execute runs every hook with ctx, logging the outcome of each. The returned
// error joins all hook failures.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	var errs []error

	for _, h := range s.hooks {
		l := log.Ctx(ctx).With().Str("hook", h.name).Logger()

		l.Info().Msg("shutdown started")
		if err := h.fn(ctx); err != nil {
			l.Warn().Err(err).Msg("shutdown failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		l.Info().Msg("shutdown complete")
	}

	return errors.Join(errs...)
}
