// Package ui embeds the single-page web client served at the site root.
package ui

import "embed"

// Dist holds the built client. The checked-in dist/ is a placeholder page;
// a real build replaces its contents before `go build`.
//
//go:embed all:dist
var Dist embed.FS
