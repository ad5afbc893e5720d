// Package prompts provides externalized agent prompt templates with
// override support. Each role template carries its token budget and
// system prompt in yaml frontmatter; the body is the user prompt.
package prompts

import "embed"

//go:embed agents/*.md
var embeddedFS embed.FS
