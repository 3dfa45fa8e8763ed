package oai

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/oaipmh/internal/metadata"
	"github.com/charlesng35/oaipmh/internal/monitoring"
	"github.com/charlesng35/oaipmh/internal/tokens"
)

// selection is one page of a ListIdentifiers or ListRecords answer.
type selection struct {
	plugin   metadata.Plugin
	records  []CachedRecord
	setSpecs map[RecordKey][]string
	token    *etree.Element
}

// listQuery holds the effective parameters of a list request, taken either
// from the arguments or from a presented resumption token.
type listQuery struct {
	prefix  string
	filter  RecordFilter
	cursor  int
	total   int64
	resumed bool
}

func (e *Engine) listIdentifiers(ctx context.Context, c *call) (*etree.Element, error) {
	sel, err := e.selectRecords(ctx, c)
	if err != nil {
		return nil, err
	}

	list := etree.NewElement(string(VerbListIdentifiers))
	for _, rec := range sel.records {
		list.AddChild(e.header(c, rec.RecordKey, rec.Changed, sel.setSpecs[rec.RecordKey]))
	}
	if sel.token != nil {
		list.AddChild(sel.token)
	}
	monitoring.RecordRecordsServed(string(c.verb), len(sel.records))
	return list, nil
}

func (e *Engine) listRecords(ctx context.Context, c *call) (*etree.Element, error) {
	sel, err := e.selectRecords(ctx, c)
	if err != nil {
		return nil, err
	}

	list := etree.NewElement(string(VerbListRecords))
	served := 0
	for _, rec := range sel.records {
		entity, err := e.entities.LoadEntity(ctx, rec.EntityType, rec.EntityID)
		if errors.Is(err, metadata.ErrEntityNotFound) {
			e.log.Warn("skipping cached record without entity",
				zap.String("entity_type", rec.EntityType),
				zap.String("entity_id", rec.EntityID),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("oai: load %s/%s: %w", rec.EntityType, rec.EntityID, err)
		}

		record, err := e.record(ctx, c, rec, entity, sel.plugin, sel.setSpecs[rec.RecordKey])
		if err != nil {
			return nil, err
		}
		list.AddChild(record)
		served++
	}

	if served == 0 && sel.token == nil {
		return nil, protocolErrorf(CodeNoRecordsMatch, "no records match the request")
	}
	if sel.token != nil {
		list.AddChild(sel.token)
	}
	monitoring.RecordRecordsServed(string(c.verb), served)
	return list, nil
}

// selectRecords resolves the effective query, reads one page from the record
// cache and issues the next resumption token when more records remain.
func (e *Engine) selectRecords(ctx context.Context, c *call) (*selection, error) {
	q, err := e.listQuery(ctx, c)
	if err != nil {
		return nil, err
	}

	plugin, ok := e.formats.Plugin(q.prefix)
	if !ok {
		return nil, protocolErrorf(CodeCannotDisseminateFormat, "metadata format %q is not supported", q.prefix)
	}

	pageSize, err := e.pageSize(ctx)
	if err != nil {
		return nil, err
	}

	if !q.resumed {
		if q.total, err = e.cache.CountRecords(ctx, q.filter); err != nil {
			return nil, fmt.Errorf("oai: count records: %w", err)
		}
	}

	records, err := e.cache.SelectRecords(ctx, q.filter, q.cursor, pageSize)
	if err != nil {
		return nil, fmt.Errorf("oai: select records: %w", err)
	}
	if len(records) == 0 {
		return nil, protocolErrorf(CodeNoRecordsMatch, "no records match the request")
	}

	sel := &selection{plugin: plugin, records: records}

	if e.settings.SetsEnabled {
		keys := make([]RecordKey, len(records))
		for i, rec := range records {
			keys[i] = rec.RecordKey
		}
		if sel.setSpecs, err = e.cache.SetSpecs(ctx, keys); err != nil {
			return nil, fmt.Errorf("oai: set specs: %w", err)
		}
	}

	switch {
	case pageSize > 0 && q.total > int64(q.cursor+pageSize):
		sel.token, err = e.issueToken(ctx, c, q, pageSize)
		if err != nil {
			return nil, err
		}
	case q.resumed:
		// last page of a resumed list: empty token closes the sequence
		sel.token = resumptionTokenElement(q.total, q.cursor)
	}
	return sel, nil
}

// listQuery reads the effective parameters. A presented token wins over the
// other arguments, which are then ignored.
func (e *Engine) listQuery(ctx context.Context, c *call) (listQuery, error) {
	if id := c.arg(argResumptionToken); id != "" {
		return e.resume(ctx, c, id)
	}

	q := listQuery{prefix: c.arg(argMetadataPrefix)}

	var errs error
	from, until, err := parseDateRange(c.arg(argFrom), c.arg(argUntil))
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	q.filter = RecordFilter{Set: c.arg(argSet), From: from, Until: until}

	if _, ok := e.formats.Plugin(q.prefix); !ok {
		errs = multierr.Append(errs, protocolErrorf(CodeCannotDisseminateFormat, "metadata format %q is not supported", q.prefix))
	}
	if q.filter.Set != "" && !e.settings.SetsEnabled {
		errs = multierr.Append(errs, protocolErrorf(CodeNoSetHierarchy, "this repository does not support sets"))
	}
	return q, errs
}

func (e *Engine) resume(ctx context.Context, c *call, id string) (listQuery, error) {
	token, err := e.tokens.Get(ctx, id)
	if errors.Is(err, tokens.ErrNotFound) {
		return listQuery{}, protocolErrorf(CodeBadResumptionToken, "resumption token %q is invalid or expired", id)
	}
	if err != nil {
		return listQuery{}, fmt.Errorf("oai: load resumption token: %w", err)
	}

	if token.Expired(c.now) || token.Verb != string(c.verb) {
		if err := e.tokens.Delete(ctx, id); err != nil {
			return listQuery{}, fmt.Errorf("oai: delete resumption token: %w", err)
		}
		return listQuery{}, protocolErrorf(CodeBadResumptionToken, "resumption token %q is invalid or expired", id)
	}

	return listQuery{
		prefix: token.MetadataPrefix,
		filter: RecordFilter{
			Set:   token.Set,
			From:  token.From,
			Until: token.Until,
		},
		cursor:  token.Cursor,
		total:   token.CompleteListSize,
		resumed: true,
	}, nil
}

// pageSize is the smallest positive pager limit across sets, capped by
// MaxPageSize. Zero means everything fits on one page.
func (e *Engine) pageSize(ctx context.Context) (int, error) {
	sets, err := e.cache.Sets(ctx)
	if err != nil {
		return 0, fmt.Errorf("oai: page size: %w", err)
	}

	size := 0
	for _, s := range sets {
		if s.PagerLimit > 0 && (size == 0 || s.PagerLimit < size) {
			size = s.PagerLimit
		}
	}
	if limit := e.settings.MaxPageSize; limit > 0 && (size == 0 || size > limit) {
		size = limit
	}
	return size, nil
}

func (e *Engine) issueToken(ctx context.Context, c *call, q listQuery, pageSize int) (*etree.Element, error) {
	id, err := e.tokens.NextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("oai: allocate resumption token: %w", err)
	}

	expires := c.now.Add(e.settings.TokenLifetime)
	token := tokens.Token{
		ID:               id,
		Verb:             string(c.verb),
		MetadataPrefix:   q.prefix,
		Set:              q.filter.Set,
		Cursor:           q.cursor + pageSize,
		From:             q.filter.From,
		Until:            q.filter.Until,
		CompleteListSize: q.total,
		ExpiresAt:        expires,
	}
	if err := e.tokens.Put(ctx, id, token); err != nil {
		return nil, fmt.Errorf("oai: store resumption token: %w", err)
	}
	monitoring.RecordTokenIssued()

	el := resumptionTokenElement(q.total, q.cursor)
	el.CreateAttr("expirationDate", formatDatestamp(expires))
	el.SetText(id)
	return el, nil
}

func resumptionTokenElement(total int64, cursor int) *etree.Element {
	el := etree.NewElement("resumptionToken")
	el.CreateAttr("completeListSize", strconv.FormatInt(total, 10))
	el.CreateAttr("cursor", strconv.Itoa(cursor))
	return el
}

