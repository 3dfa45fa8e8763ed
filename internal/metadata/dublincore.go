package metadata

import (
	"context"

	"github.com/beevik/etree"
)

const (
	// DublinCorePluginID identifies the oai_dc plugin.
	DublinCorePluginID = "dublin_core"

	oaiDCNamespace = "http://www.openarchives.org/OAI/2.0/oai_dc/"
	oaiDCSchema    = "http://www.openarchives.org/OAI/2.0/oai_dc.xsd"
	dcNamespace    = "http://purl.org/dc/elements/1.1/"
)

// DublinCore renders unqualified Dublin Core for the oai_dc prefix.
type DublinCore struct {
	mapping FieldMapping
}

// NewDublinCore builds the plugin over a field mapping. A nil mapping uses
// DefaultFieldMapping.
func NewDublinCore(mapping FieldMapping) *DublinCore {
	if mapping == nil {
		mapping = DefaultFieldMapping()
	}
	return &DublinCore{mapping: mapping}
}

func (p *DublinCore) ID() string { return DublinCorePluginID }

func (p *DublinCore) Format() FormatDescriptor {
	return FormatDescriptor{
		MetadataPrefix:    "oai_dc",
		Schema:            oaiDCSchema,
		MetadataNamespace: oaiDCNamespace,
	}
}

func (p *DublinCore) Wrapper() Wrapper {
	return Wrapper{
		Name: "oai_dc:dc",
		Attrs: []Attr{
			{Key: "xmlns:oai_dc", Value: oaiDCNamespace},
			{Key: "xmlns:dc", Value: dcNamespace},
			{Key: "xmlns:xsi", Value: XMLSchemaInstance},
			{Key: "xsi:schemaLocation", Value: oaiDCNamespace + " " + oaiDCSchema},
		},
	}
}

// Transform emits one dc:* element per value in canonical element order.
func (p *DublinCore) Transform(_ context.Context, entity *Entity) (string, error) {
	values := resolveDublinCore(entity, p.mapping)

	doc := etree.NewDocument()
	for _, element := range dcElements {
		for _, value := range values[element] {
			doc.CreateElement(element).SetText(value)
		}
	}
	return doc.WriteToString()
}
