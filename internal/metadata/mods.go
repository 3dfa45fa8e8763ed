package metadata

import (
	"context"

	"github.com/beevik/etree"
)

const (
	// MODSPluginID identifies the MODS plugin.
	MODSPluginID = "mods"

	modsNamespace = "http://www.loc.gov/mods/v3"
	modsSchema    = "http://www.loc.gov/standards/mods/v3/mods-3-3.xsd"
)

// MODS renders the Dublin Core view of an entity as MODS 3.3.
type MODS struct {
	mapping FieldMapping
}

// NewMODS builds the plugin over a field mapping.
func NewMODS(mapping FieldMapping) *MODS {
	if mapping == nil {
		mapping = DefaultFieldMapping()
	}
	return &MODS{mapping: mapping}
}

func (p *MODS) ID() string { return MODSPluginID }

func (p *MODS) Format() FormatDescriptor {
	return FormatDescriptor{
		MetadataPrefix:    "mods",
		Schema:            modsSchema,
		MetadataNamespace: modsNamespace,
	}
}

func (p *MODS) Wrapper() Wrapper {
	return Wrapper{
		Name: "mods",
		Attrs: []Attr{
			{Key: "xmlns", Value: modsNamespace},
			{Key: "xmlns:xsi", Value: XMLSchemaInstance},
			{Key: "xsi:schemaLocation", Value: modsNamespace + " " + modsSchema},
		},
	}
}

func (p *MODS) Transform(_ context.Context, entity *Entity) (string, error) {
	values := resolveDublinCore(entity, p.mapping)
	doc := etree.NewDocument()

	for _, v := range values["dc:title"] {
		doc.CreateElement("titleInfo").CreateElement("title").SetText(v)
	}
	addNames(doc, values["dc:creator"], "creator")
	addNames(doc, values["dc:contributor"], "contributor")
	for _, v := range values["dc:type"] {
		doc.CreateElement("genre").SetText(v)
	}

	if len(values["dc:publisher"]) > 0 || len(values["dc:date"]) > 0 {
		origin := doc.CreateElement("originInfo")
		for _, v := range values["dc:publisher"] {
			origin.CreateElement("publisher").SetText(v)
		}
		for _, v := range values["dc:date"] {
			origin.CreateElement("dateIssued").SetText(v)
		}
	}

	for _, v := range values["dc:language"] {
		doc.CreateElement("language").CreateElement("languageTerm").SetText(v)
	}
	if len(values["dc:format"]) > 0 {
		physical := doc.CreateElement("physicalDescription")
		for _, v := range values["dc:format"] {
			physical.CreateElement("form").SetText(v)
		}
	}
	for _, v := range values["dc:description"] {
		doc.CreateElement("abstract").SetText(v)
	}
	for _, v := range values["dc:subject"] {
		doc.CreateElement("subject").CreateElement("topic").SetText(v)
	}
	for _, v := range values["dc:coverage"] {
		doc.CreateElement("subject").CreateElement("geographic").SetText(v)
	}
	for _, v := range values["dc:relation"] {
		related := doc.CreateElement("relatedItem")
		related.CreateElement("titleInfo").CreateElement("title").SetText(v)
	}
	for _, v := range values["dc:source"] {
		related := doc.CreateElement("relatedItem")
		related.CreateAttr("type", "original")
		related.CreateElement("titleInfo").CreateElement("title").SetText(v)
	}
	for _, v := range values["dc:identifier"] {
		doc.CreateElement("identifier").SetText(v)
	}
	for _, v := range values["dc:rights"] {
		doc.CreateElement("accessCondition").SetText(v)
	}

	return doc.WriteToString()
}

func addNames(doc *etree.Document, names []string, role string) {
	for _, v := range names {
		name := doc.CreateElement("name")
		name.CreateElement("namePart").SetText(v)
		term := name.CreateElement("role").CreateElement("roleTerm")
		term.CreateAttr("type", "text")
		term.SetText(role)
	}
}
