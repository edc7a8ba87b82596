package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maximum accepted size of the identity file
const maxIdentifierBytes = 1 << 10

// ReadIdentifierFile reads a channel identifier from path, ignoring surrounding
// whitespace.
func ReadIdentifierFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("could not read channel identity file: %w", err)
	}

	if len(content) > maxIdentifierBytes {
		return "", fmt.Errorf("channel identity file %s exceeds %d bytes", path, maxIdentifierBytes)
	}

	identifier := strings.TrimSpace(string(content))
	if identifier == "" {
		return "", fmt.Errorf("channel identity file %s is empty", path)
	}

	return identifier, nil
}

// Watcher keeps a Store in line with an identity file, re-reading it on an
// interval. Read failures are logged and non-fatal: the store keeps the last
// identifier read.
type Watcher struct {
	store    *Store
	path     string
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher reads path synchronously into a new Store. If that fails the
// error is returned and no goroutine is started. On success a background
// goroutine re-reads the file every interval; call Close to stop it.
func NewWatcher(ctx context.Context, path string, interval time.Duration) (*Watcher, error) {
	if interval <= 0 {
		return nil, errors.New("channel identity refresh interval must be positive")
	}

	identifier, err := ReadIdentifierFile(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		store:    NewStore(identifier),
		path:     path,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	log.Info().Str("channel", identifier).Str("path", path).Msg("channel identity: loaded")

	go w.refreshLoop(ctx)

	return w, nil
}

// Store is the store kept up to date by the watcher.
func (w *Watcher) Store() *Store {
	return w.store
}

// Close stops the refresh goroutine and waits for it to exit.
func (w *Watcher) Close() error {
	close(w.stopCh)
	<-w.doneCh
	return nil
}

func (w *Watcher) refreshLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.refresh()
		case <-w.stopCh:
			return
		case <-ctx.Done():
			log.Info().Msg("channel identity refresh shutting down gracefully")
			return
		}
	}
}

func (w *Watcher) refresh() {
	identifier, err := ReadIdentifierFile(w.path)
	if err != nil {
		// may be transient (e.g. the file is being replaced); keep going
		log.Info().Err(err).Msg("channel identity refresh failed, continuing")
		return
	}

	w.store.Update(identifier)
}
