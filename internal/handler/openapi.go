package handler

import (
	"net/http"

	"github.com/tallycrm/tally/internal/openapi"
)

// OpenAPIHandler serves the API description. The server URL follows the
// request so the document works behind proxies and on any port.
type OpenAPIHandler struct {
	opts openapi.Options
}

// NewOpenAPIHandler creates an OpenAPIHandler. opts.BaseURL is ignored.
func NewOpenAPIHandler(opts openapi.Options) *OpenAPIHandler {
	return &OpenAPIHandler{opts: opts}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	opts := h.opts
	opts.BaseURL = requestBaseURL(r)
	writeJSON(w, http.StatusOK, openapi.Generate(opts))
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
