package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve runs server on listener until ctx is done, then shuts it down
// gracefully, allowing in-flight requests up to shutdownTimeout to finish.
// Hooks run after the server has stopped, sharing the same deadline.
func Serve(ctx context.Context, server *http.Server, listener net.Listener, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server: listening")
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		// the server stopped without being asked to
		if hooks != nil {
			_ = hooks.Execute(context.WithoutCancel(ctx))
		}
		return err

	case <-ctx.Done():
		log.Info().Msg("server: shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		log.Warn().Err(err).Msg("server: graceful shutdown incomplete")
	}

	if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		err = errors.Join(err, serr)
	}

	if hooks != nil {
		err = errors.Join(err, hooks.Execute(shutdownCtx))
	}

	log.Info().Msg("server: shutdown complete")

	return err
}
