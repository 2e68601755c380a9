// Package configs provides embedded configuration templates.
//
// Templates are embedded at build time with //go:embed so they ship in
// every distribution. `searchlab init` writes ProjectConfigTemplate to
// .searchlab.yaml in the project root; internal/config.Load then layers
// it between the built-in defaults and SEARCHLAB_* env overrides.
package configs

import _ "embed"

// ProjectConfigTemplate is the annotated starting point for a project's
// .searchlab.yaml. Every value in it matches the built-in defaults, so
// a freshly written file changes nothing until edited.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
