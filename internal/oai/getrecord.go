package oai

import (
	"context"
	"errors"
	"fmt"

	"github.com/beevik/etree"
	"go.uber.org/multierr"

	"github.com/charlesng35/oaipmh/internal/metadata"
	"github.com/charlesng35/oaipmh/internal/monitoring"
)

func (e *Engine) getRecord(ctx context.Context, c *call) (*etree.Element, error) {
	identifier := c.arg(argIdentifier)
	prefix := c.arg(argMetadataPrefix)

	var errs error
	plugin, ok := e.formats.Plugin(prefix)
	if !ok {
		errs = multierr.Append(errs, protocolErrorf(CodeCannotDisseminateFormat, "metadata format %q is not supported", prefix))
	}

	rec, entity, err := e.resolve(ctx, c, identifier)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		errs = multierr.Append(errs, protocolErrorf(CodeIDDoesNotExist, "%q is unknown or illegal in this repository", identifier))
	}
	if errs != nil {
		return nil, errs
	}

	var setSpecs []string
	if e.settings.SetsEnabled {
		specs, err := e.cache.SetSpecs(ctx, []RecordKey{rec.RecordKey})
		if err != nil {
			return nil, fmt.Errorf("oai: set specs for %s: %w", identifier, err)
		}
		setSpecs = specs[rec.RecordKey]
	}

	record, err := e.record(ctx, c, rec, entity, plugin, setSpecs)
	if err != nil {
		return nil, err
	}

	get := etree.NewElement(string(VerbGetRecord))
	get.AddChild(record)
	monitoring.RecordRecordsServed(string(c.verb), 1)
	return get, nil
}

// resolve maps an identifier to its cached record and entity. A nil entity
// means the identifier does not resolve to a viewable record.
func (e *Engine) resolve(ctx context.Context, c *call, identifier string) (CachedRecord, *metadata.Entity, error) {
	key, ok := ParseIdentifier(identifier, c.Host)
	if !ok {
		return CachedRecord{}, nil, nil
	}

	rec, found, err := e.cache.LookupRecord(ctx, key)
	if err != nil {
		return CachedRecord{}, nil, fmt.Errorf("oai: lookup %s: %w", identifier, err)
	}
	if !found {
		return CachedRecord{}, nil, nil
	}

	entity, err := e.entities.LoadEntity(ctx, key.EntityType, key.EntityID)
	if errors.Is(err, metadata.ErrEntityNotFound) {
		return CachedRecord{}, nil, nil
	}
	if err != nil {
		return CachedRecord{}, nil, fmt.Errorf("oai: load %s: %w", identifier, err)
	}
	return rec, entity, nil
}
