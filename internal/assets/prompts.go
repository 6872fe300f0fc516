// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at compile time.
package assets

import (
	_ "embed"
	"strings"
)

// enhanceHDPrompt asks the image model to upscale a tile to HD and strip any
// text, labels, or watermarks. One prompt is shared by every tile.
//
//go:embed prompts/enhance-hd.txt
var enhanceHDPrompt string

// EnhanceHDPrompt returns the embedded enhancement instruction without the
// trailing newline left by the text file.
func EnhanceHDPrompt() string {
	return strings.TrimSpace(enhanceHDPrompt)
}
