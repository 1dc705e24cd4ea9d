// Package databind holds module-level metadata for the databind library
// and command.
package databind

// Version is the release of this module. Builds may set it with -ldflags -X.
var Version = "0.1.0"

// ModulePath is the Go module path.
const ModulePath = "github.com/mesh-intelligence/databind"
