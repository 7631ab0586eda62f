// Package web bundles the console's HTML templates and static assets.
package web

import (
	"embed"
	"io/fs"
)

// Templates holds layouts, partials and pages.
//
//go:embed templates/**/*.html
var Templates embed.FS

//go:embed static/**/*
var static embed.FS

// StaticFS returns the assets rooted at the static directory, ready to be
// served under /static/.
func StaticFS() (fs.FS, error) {
	return fs.Sub(static, "static")
}
