// Package proto embeds the service and config schemas shipped with the binary.
package proto

import "embed"

//go:embed config/v1/*.proto registry/v1/*.proto plugins/joule/v1/*.proto
var Files embed.FS

// Paths lists the schema files compiled at startup, relative to Files.
var Paths = []string{
	"config/v1/config.proto",
	"registry/v1/registry.proto",
	"plugins/joule/v1/joule.proto",
}
