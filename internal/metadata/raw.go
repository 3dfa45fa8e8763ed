package metadata

import (
	"context"

	"github.com/beevik/etree"
)

// RawFieldsPluginID identifies the oai_raw plugin.
const RawFieldsPluginID = "raw_fields"

// RawFields dumps every field of an entity. Intended for testing mappings.
type RawFields struct{}

// NewRawFields returns the oai_raw plugin.
func NewRawFields() *RawFields { return &RawFields{} }

func (RawFields) ID() string { return RawFieldsPluginID }

func (RawFields) Format() FormatDescriptor {
	return FormatDescriptor{MetadataPrefix: "oai_raw"}
}

func (RawFields) Wrapper() Wrapper { return Wrapper{Name: "oai_raw"} }

func (RawFields) Transform(_ context.Context, entity *Entity) (string, error) {
	fields := entity.FieldValues()
	doc := etree.NewDocument()
	for _, name := range sortedFieldNames(fields) {
		for _, value := range fields[name] {
			doc.CreateElement(name).SetText(value)
		}
	}
	return doc.WriteToString()
}
