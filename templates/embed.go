// Package templates embeds the default configuration and checklist template.
package templates

import "embed"

//go:embed config.yaml checklist.yaml
var FS embed.FS
