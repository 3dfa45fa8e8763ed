// Package metadata renders repository entities into OAI-PMH metadata formats.
package metadata

import "context"

// XMLSchemaInstance is the xsi namespace used by every wrapper.
const XMLSchemaInstance = "http://www.w3.org/2001/XMLSchema-instance"

// FormatDescriptor advertises a metadata format in ListMetadataFormats.
type FormatDescriptor struct {
	MetadataPrefix    string
	Schema            string
	MetadataNamespace string
}

// Attr is a single wrapper attribute. Order is preserved on output.
type Attr struct {
	Key   string
	Value string
}

// Wrapper is the element that encloses a plugin's fragment inside <metadata>.
type Wrapper struct {
	Name  string
	Attrs []Attr
}

// Plugin turns an entity into the XML fragment of one metadata format.
type Plugin interface {
	ID() string
	Format() FormatDescriptor
	Wrapper() Wrapper
	// Transform returns zero or more XML elements to place inside Wrapper.
	Transform(ctx context.Context, entity *Entity) (string, error)
}
