// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of the
// working directory or installation location.
package schemasassets

import _ "embed"

// TaskManifestSchema is the embedded task-manifest JSON schema.
//
//go:embed task-manifest.schema.json
var TaskManifestSchema []byte
