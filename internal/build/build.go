// Package build holds build-time metadata injected through ldflags.
package build

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// MinimumSupportedDatastoreSchemaRevision is the oldest migration revision the
// server will accept at startup.
const MinimumSupportedDatastoreSchemaRevision int64 = 1
