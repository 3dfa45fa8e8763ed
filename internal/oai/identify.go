package oai

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/etree"

	"github.com/charlesng35/oaipmh/internal/metadata"
)

const (
	protocolVersion       = "2.0"
	oaiIdentifierNS       = "http://www.openarchives.org/OAI/2.0/oai-identifier"
	oaiIdentifierLocation = oaiIdentifierNS + " http://www.openarchives.org/OAI/2.0/oai-identifier.xsd"
)

func (e *Engine) identify(ctx context.Context, c *call) (*etree.Element, error) {
	earliest, ok, err := e.cache.EarliestDatestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("oai: earliest datestamp: %w", err)
	}
	if !ok {
		earliest = time.Unix(0, 0)
	}

	identify := etree.NewElement(string(VerbIdentify))
	identify.CreateElement("repositoryName").SetText(e.settings.RepositoryName)
	identify.CreateElement("baseURL").SetText(c.BaseURL)
	identify.CreateElement("protocolVersion").SetText(protocolVersion)
	identify.CreateElement("adminEmail").SetText(e.settings.AdminEmail)
	identify.CreateElement("earliestDatestamp").SetText(formatDatestamp(earliest))
	identify.CreateElement("deletedRecord").SetText("no")
	identify.CreateElement("granularity").SetText(granularityString)

	sampleType := e.settings.SampleEntityType
	if sampleType == "" {
		sampleType = "node"
	}

	description := identify.CreateElement("description")
	oaiIdentifier := description.CreateElement("oai-identifier")
	oaiIdentifier.CreateAttr("xmlns", oaiIdentifierNS)
	oaiIdentifier.CreateAttr("xmlns:xsi", metadata.XMLSchemaInstance)
	oaiIdentifier.CreateAttr("xsi:schemaLocation", oaiIdentifierLocation)
	oaiIdentifier.CreateElement("scheme").SetText(identifierScheme)
	oaiIdentifier.CreateElement("repositoryIdentifier").SetText(c.Host)
	oaiIdentifier.CreateElement("delimiter").SetText(":")
	oaiIdentifier.CreateElement("sampleIdentifier").SetText(FormatIdentifier(c.Host, sampleType, "1"))

	return identify, nil
}

func (e *Engine) listMetadataFormats(ctx context.Context, c *call) (*etree.Element, error) {
	if identifier := c.arg(argIdentifier); identifier != "" {
		key, ok := ParseIdentifier(identifier, c.Host)
		if ok {
			_, found, err := e.cache.LookupRecord(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("oai: lookup %s: %w", identifier, err)
			}
			ok = found
		}
		if !ok {
			return nil, protocolErrorf(CodeIDDoesNotExist, "%q is unknown or illegal in this repository", identifier)
		}
	}

	formats := e.formats.Formats()
	if len(formats) == 0 {
		return nil, protocolErrorf(CodeNoMetadataFormats, "no metadata formats are available")
	}

	list := etree.NewElement(string(VerbListMetadataFormats))
	for _, f := range formats {
		format := list.CreateElement("metadataFormat")
		format.CreateElement("metadataPrefix").SetText(f.MetadataPrefix)
		format.CreateElement("schema").SetText(f.Schema)
		format.CreateElement("metadataNamespace").SetText(f.MetadataNamespace)
	}
	return list, nil
}

func (e *Engine) listSets(ctx context.Context, c *call) (*etree.Element, error) {
	if c.arg(argResumptionToken) != "" {
		return nil, protocolErrorf(CodeBadResumptionToken, "ListSets does not issue resumption tokens")
	}
	if !e.settings.SetsEnabled {
		return nil, protocolErrorf(CodeNoSetHierarchy, "this repository does not support sets")
	}

	sets, err := e.cache.Sets(ctx)
	if err != nil {
		return nil, fmt.Errorf("oai: list sets: %w", err)
	}
	if len(sets) == 0 {
		return nil, protocolErrorf(CodeNoSetHierarchy, "this repository does not support sets")
	}

	list := etree.NewElement(string(VerbListSets))
	for _, s := range sets {
		set := list.CreateElement("set")
		set.CreateElement("setSpec").SetText(s.Spec)
		set.CreateElement("setName").SetText(s.Name)
	}
	return list, nil
}
