package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tallycrm/tally/internal/store"
)

// requireID extracts a required positive integer ID argument.
func requireID(request mcp.CallToolRequest, key string) (int64, error) {
	n, err := request.RequireInt(key)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("missing or invalid parameter %q: want a positive integer", key)
	}
	return int64(n), nil
}

// optionalID extracts an optional integer ID argument. Absent means nil.
func optionalID(request mcp.CallToolRequest, key string) (*int64, error) {
	if _, ok := request.GetArguments()[key]; !ok {
		return nil, nil
	}
	id, err := requireID(request, key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// optionalTime parses an optional RFC 3339 argument.
func optionalTime(request mcp.CallToolRequest, key string) (*time.Time, error) {
	raw := request.GetString(key, "")
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parameter %q must be an RFC 3339 timestamp: %v", key, err)
	}
	t = t.UTC()
	return &t, nil
}

// optionalBool distinguishes an absent boolean argument from false.
func optionalBool(request mcp.CallToolRequest, key string) *bool {
	if _, ok := request.GetArguments()[key]; !ok {
		return nil
	}
	b := request.GetBool(key, false)
	return &b
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// storeError turns store sentinels into tool errors the agent can act on.
// Anything else is a protocol-level error.
func storeError(what string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return toolError("%s not found", what)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInvalid):
		return toolError("%s: %v", what, err)
	}
	return nil, fmt.Errorf("%s: %w", what, err)
}

// clamp constrains val to [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
