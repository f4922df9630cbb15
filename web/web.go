// Package web embeds the browser client served at the gateway root.
package web

import "embed"

//go:embed static
var Static embed.FS
