package metadata

import "strings"

// FieldMapping maps an entity field name to the ordered list of RDF-style
// properties it expresses, e.g. "field_abstract": ["dcterms:abstract"].
type FieldMapping map[string][]string

// DefaultFieldMapping covers the implicit fields.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		FieldTitle:   {"dc:title"},
		FieldCreated: {"dcterms:created"},
	}
}

// dcElements lists the fifteen Dublin Core elements in canonical order.
var dcElements = []string{
	"dc:title",
	"dc:creator",
	"dc:subject",
	"dc:description",
	"dc:publisher",
	"dc:contributor",
	"dc:date",
	"dc:type",
	"dc:format",
	"dc:identifier",
	"dc:source",
	"dc:language",
	"dc:relation",
	"dc:coverage",
	"dc:rights",
}

// dcTermsRefinements maps DC terms onto the element they refine so that they
// can appear in oai_dc.
var dcTermsRefinements = map[string]string{
	"dc:abstract":              "dc:description",
	"dc:accessRights":          "dc:rights",
	"dc:alternative":           "dc:title",
	"dc:available":             "dc:date",
	"dc:bibliographicCitation": "dc:identifier",
	"dc:conformsTo":            "dc:relation",
	"dc:created":               "dc:date",
	"dc:dateAccepted":          "dc:date",
	"dc:dateCopyrighted":       "dc:date",
	"dc:dateSubmitted":         "dc:date",
	"dc:extent":                "dc:format",
	"dc:hasFormat":             "dc:format",
	"dc:hasPart":               "dc:relation",
	"dc:hasVersion":            "dc:relation",
	"dc:isFormatOf":            "dc:relation",
	"dc:isPartOf":              "dc:relation",
	"dc:isReferencedBy":        "dc:relation",
	"dc:isReplacedBy":          "dc:relation",
	"dc:isRequiredBy":          "dc:relation",
	"dc:isVersionOf":           "dc:relation",
	"dc:issued":                "dc:date",
	"dc:license":               "dc:rights",
	"dc:medium":                "dc:format",
	"dc:modified":              "dc:date",
	"dc:references":            "dc:relation",
	"dc:replaces":              "dc:relation",
	"dc:requires":              "dc:relation",
	"dc:spatial":               "dc:coverage",
	"dc:tableOfContents":       "dc:description",
	"dc:temporal":              "dc:coverage",
	"dc:valid":                 "dc:date",
}

var dcElementSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(dcElements))
	for _, el := range dcElements {
		set[el] = struct{}{}
	}
	return set
}()

// normalizeProperty rewrites the dc11: and dcterms: prefixes to dc:.
func normalizeProperty(property string) string {
	property = strings.TrimSpace(property)
	prefix, local, found := strings.Cut(property, ":")
	if !found {
		return property
	}
	switch prefix {
	case "dc11", "dcterms":
		return "dc:" + local
	}
	return property
}

// dcElementFor resolves a property to a DC element, if it maps to one.
func dcElementFor(property string) (string, bool) {
	property = normalizeProperty(property)
	if _, ok := dcElementSet[property]; ok {
		return property, true
	}
	el, ok := dcTermsRefinements[property]
	return el, ok
}

// resolveDublinCore groups the entity's values by DC element. The first
// property of a field that resolves decides its element.
func resolveDublinCore(entity *Entity, mapping FieldMapping) map[string][]string {
	fields := entity.FieldValues()
	out := make(map[string][]string)
	for _, name := range sortedFieldNames(fields) {
		for _, property := range mapping[name] {
			element, ok := dcElementFor(property)
			if !ok {
				continue
			}
			out[element] = append(out[element], fields[name]...)
			break
		}
	}
	return out
}
