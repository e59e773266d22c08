package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maxpert/durasql/actor"
	"github.com/maxpert/durasql/db"
	"github.com/maxpert/durasql/storage"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// AdminHandlers serves operator endpoints over the actor host.
type AdminHandlers struct {
	host    *actor.Host
	catalog *actor.Catalog
}

// NewAdminHandlers creates handlers for host. catalog may be nil.
func NewAdminHandlers(host *actor.Host, catalog *actor.Catalog) *AdminHandlers {
	return &AdminHandlers{
		host:    host,
		catalog: catalog,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// writeError maps an error from the actor layer to a status code.
func writeError(w http.ResponseWriter, err error) {
	writeErrorResponse(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var (
		authErr   db.AuthorizationError
		syntaxErr db.SyntaxError
		emptyErr  db.EmptyStatementError
		countErr  db.ParameterCountError
		typeErr   db.ParameterTypeError
	)

	switch {
	case errors.Is(err, actor.ErrInvalidID):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusForbidden
	case errors.As(err, &syntaxErr), errors.As(err, &emptyErr),
		errors.As(err, &countErr), errors.As(err, &typeErr):
		return http.StatusBadRequest
	case storage.IsAbortError(err):
		return http.StatusConflict
	case errors.Is(err, storage.ErrSizeLimitExceeded):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}

// formatTimestamp converts nanoseconds to ISO 8601 string
func formatTimestamp(nanos int64) string {
	if nanos == 0 {
		return ""
	}
	return time.Unix(0, nanos).UTC().Format(time.RFC3339Nano)
}
