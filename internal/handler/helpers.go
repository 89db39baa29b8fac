// Package handler implements the REST endpoints of the CRM API. Handlers
// read the authenticated principal from the request context and scope every
// query to what that principal may see.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/query"
	"github.com/tallycrm/tally/internal/server/middleware"
	"github.com/tallycrm/tally/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxBodyBytes    = 1 << 20
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the {"error": message} envelope shared with the auth
// middleware.
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, model.ErrorResponse{Error: message})
}

// writeStoreError maps store sentinels to 404, 409 and 400 and anything else to a
// logged 500 that does not leak the underlying error.
func writeStoreError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, what string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, conflictMessage(err))
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("store operation failed",
			"resource", what,
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// conflictMessage strips the sentinel prefix so clients see only the reason.
func conflictMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, store.ErrConflict.Error()+": "); i >= 0 {
		return msg[i+len(store.ErrConflict.Error())+2:]
	}
	return store.ErrConflict.Error()
}

// readJSON decodes the request body as JSON into v. The body is limited to
// 1 MiB and closed after decoding. An empty body leaves v untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// queryInt64 extracts an ID-like query parameter. Missing means zero.
func queryInt64(r *http.Request, key string) (int64, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, val)
	}
	return n, nil
}

// queryOptionalBool distinguishes an absent boolean filter from false.
func queryOptionalBool(r *http.Request, key string) (*bool, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", key, val)
	}
	return &b, nil
}

// page reads limit/offset with the API's default and maximum page sizes.
func page(r *http.Request) (limit, offset int) {
	limit = query.ClampLimit(queryInt(r, "limit", 0), defaultPageSize, maxPageSize)
	offset = queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// pathID parses a numeric chi URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

// principal returns the request's principal. Routes using it are always
// mounted behind middleware.Authenticate.
func principal(r *http.Request) model.Principal {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p
}

// ownerScope returns the owner filter for list queries: zero (everyone) for
// managers and admins, the caller's own ID otherwise.
func ownerScope(p model.Principal) int64 {
	if p.Role.SeesAll() {
		return 0
	}
	return p.UserID
}

func listResponse(resource interface{}, count, limit, offset int) model.ListResponse {
	return model.ListResponse{
		Resource: resource,
		Meta: &model.ResponseMeta{
			Count:  count,
			Limit:  limit,
			Offset: offset,
		},
	}
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1
}
