// Package web holds the embedded control page.
package web

import _ "embed"

//go:embed index.html
var IndexHTML []byte
