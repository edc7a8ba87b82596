package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/chinmina/channel-auth-bridge/internal/token"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// TokenResolver resolves and invalidates channel auth tokens.
type TokenResolver interface {
	ResolveAuth(ctx context.Context, identifier string) (string, error)
	Invalidate(ctx context.Context, token string)
}

var _ TokenResolver = (*token.Provider)(nil)

// TokenRequest asks for the auth token of a channel.
type TokenRequest struct {
	ChannelID string `json:"channelId"`
}

// TokenResponse carries the auth token for a channel.
type TokenResponse struct {
	ChannelID string `json:"channelId"`
	Token     string `json:"token"`
}

// ExpiredTokenRequest reports a token that was rejected downstream.
type ExpiredTokenRequest struct {
	Token string `json:"token"`
}

// ChannelResponse describes the live channel.
type ChannelResponse struct {
	ChannelID string `json:"channelId"`
}

func handlePostToken(resolver TokenResolver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req TokenRequest
		if err := readJSON(r, &req); err != nil {
			log.Info().Msgf("invalid token request: %v", err)
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if strings.TrimSpace(req.ChannelID) == "" {
			writeJSONError(w, http.StatusBadRequest, "channelId is required")
			return
		}

		tok, err := resolver.ResolveAuth(r.Context(), req.ChannelID)
		if err != nil {
			status, message := errorStatus(err)
			log.Info().Str("channel", req.ChannelID).Msgf("token resolution failed: %v", err)
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, http.StatusOK, TokenResponse{
			ChannelID: req.ChannelID,
			Token:     tok,
		})
	})
}

func handlePostTokenExpired(resolver TokenResolver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req ExpiredTokenRequest
		if err := readJSON(r, &req); err != nil {
			log.Info().Msgf("invalid token expiry request: %v", err)
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.Token == "" {
			writeJSONError(w, http.StatusBadRequest, "token is required")
			return
		}

		resolver.Invalidate(r.Context(), req.Token)

		w.WriteHeader(http.StatusNoContent)
	})
}

func handleGetChannel(identity token.IdentitySource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		channelID := identity.Identifier()
		if channelID == "" {
			writeJSONError(w, http.StatusServiceUnavailable, "channel not registered")
			return
		}

		writeJSON(w, http.StatusOK, ChannelResponse{ChannelID: channelID})
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// readJSON decodes a single JSON object from the request body, rejecting
// unknown fields.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}

	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	marshalled, err := json.Marshal(v)
	if err != nil {
		requestError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, err = w.Write(marshalled)
	if err != nil {
		// record failure to log: trying to respond to the client at this
		// point will likely fail
		log.Info().Msgf("failed to write response: %v", err)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
