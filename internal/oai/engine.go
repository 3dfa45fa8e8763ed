// Package oai implements an OAI-PMH 2.0 data provider over a record cache.
package oai

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/beevik/etree"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/charlesng35/oaipmh/internal/metadata"
	"github.com/charlesng35/oaipmh/internal/monitoring"
	"github.com/charlesng35/oaipmh/internal/tokens"
	"github.com/charlesng35/oaipmh/pkg/logger"
)

var tracer = otel.Tracer("oai")

// RecordKey identifies a cached record.
type RecordKey struct {
	EntityType string
	EntityID   string
}

// CachedRecord is a row of the record cache.
type CachedRecord struct {
	RecordKey
	Created time.Time
	Changed time.Time
}

// Set is an OAI set backed by a membership source.
type Set struct {
	Spec       string
	Name       string
	PagerLimit int
}

// RecordFilter narrows a record selection. Nil bounds are open.
type RecordFilter struct {
	Set   string
	From  *time.Time
	Until *time.Time
}

// RecordCache is the read side of the record/set/member cache.
type RecordCache interface {
	// EarliestDatestamp returns the oldest created time; ok is false when
	// the cache is empty.
	EarliestDatestamp(ctx context.Context) (t time.Time, ok bool, err error)
	Sets(ctx context.Context) ([]Set, error)
	CountRecords(ctx context.Context, filter RecordFilter) (int64, error)
	// SelectRecords returns records with at least one member row ordered by
	// entity type then id. A limit of zero means no limit.
	SelectRecords(ctx context.Context, filter RecordFilter, offset, limit int) ([]CachedRecord, error)
	SetSpecs(ctx context.Context, keys []RecordKey) (map[RecordKey][]string, error)
	// LookupRecord finds an exposed record, i.e. one with a member row.
	LookupRecord(ctx context.Context, key RecordKey) (CachedRecord, bool, error)
}

// EntityLoader loads the entity behind a record. It returns
// metadata.ErrEntityNotFound when the entity is gone or not viewable.
type EntityLoader interface {
	LoadEntity(ctx context.Context, entityType, entityID string) (*metadata.Entity, error)
}

// FormatCatalog lists enabled metadata formats.
type FormatCatalog interface {
	Formats() []metadata.FormatDescriptor
	Plugin(prefix string) (metadata.Plugin, bool)
}

// TokenStore persists resumption tokens.
type TokenStore interface {
	NextID(ctx context.Context) (string, error)
	Put(ctx context.Context, id string, token tokens.Token) error
	Get(ctx context.Context, id string) (tokens.Token, error)
	Delete(ctx context.Context, id string) error
}

// Settings are the repository-level options.
type Settings struct {
	RepositoryName   string
	AdminEmail       string
	SetsEnabled      bool
	TokenLifetime    time.Duration
	MaxPageSize      int
	SampleEntityType string
}

// Request is one OAI-PMH request. Host has its port stripped.
type Request struct {
	BaseURL string
	Host    string
	Args    url.Values
}

// Response is a rendered OAI-PMH document. Protocol errors are part of the
// document; they are listed in Errors as well.
type Response struct {
	Verb     Verb
	Errors   []*ProtocolError
	Document *etree.Document
}

// Bytes serialises the document.
func (r *Response) Bytes() ([]byte, error) {
	return r.Document.WriteToBytes()
}

// Option customises an Engine.
type Option func(*Engine)

// WithNow replaces the clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger replaces the module logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

type verbHandler func(ctx context.Context, c *call) (*etree.Element, error)

// call carries the state of a single request through a verb handler.
type call struct {
	Request
	verb Verb
	now  time.Time
}

func (c *call) arg(name string) string {
	return c.Args.Get(name)
}

// Engine answers OAI-PMH requests. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	cache    RecordCache
	tokens   TokenStore
	entities EntityLoader
	formats  FormatCatalog
	settings Settings
	now      func() time.Time
	log      *zap.Logger
	handlers map[Verb]verbHandler
}

// NewEngine wires the engine to its collaborators.
func NewEngine(cache RecordCache, tokenStore TokenStore, entities EntityLoader, formats FormatCatalog, settings Settings, opts ...Option) (*Engine, error) {
	switch {
	case cache == nil:
		return nil, errors.New("oai: record cache is required")
	case tokenStore == nil:
		return nil, errors.New("oai: token store is required")
	case entities == nil:
		return nil, errors.New("oai: entity loader is required")
	case formats == nil:
		return nil, errors.New("oai: format catalog is required")
	case settings.TokenLifetime <= 0:
		return nil, errors.New("oai: resumption token lifetime must be positive")
	}

	e := &Engine{
		cache:    cache,
		tokens:   tokenStore,
		entities: entities,
		formats:  formats,
		settings: settings,
		now:      time.Now,
		log:      logger.WithModule("oai"),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.handlers = map[Verb]verbHandler{
		VerbIdentify:            e.identify,
		VerbGetRecord:           e.getRecord,
		VerbListIdentifiers:     e.listIdentifiers,
		VerbListMetadataFormats: e.listMetadataFormats,
		VerbListRecords:         e.listRecords,
		VerbListSets:            e.listSets,
	}
	return e, nil
}

// Handle answers one request. A returned error is an internal failure; OAI
// protocol errors are reported inside the Response.
func (e *Engine) Handle(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "OAI.Engine.Handle")
	defer span.End()

	c := &call{Request: req, now: e.now().UTC()}

	verb, err := parseVerb(req.Args)
	var body *etree.Element
	if err == nil {
		c.verb = verb
		span.SetAttributes(attribute.String("oai.verb", string(verb)))
		body, err = e.dispatch(ctx, c)
	}

	protocolErrs, internal := splitErrors(err)
	if internal != nil {
		span.RecordError(internal)
		span.SetStatus(codes.Error, internal.Error())
		monitoring.RecordOAIRequest(string(verb), monitoring.ResultInternalError, time.Since(started))
		e.log.Error("request failed",
			zap.String("verb", req.Args.Get(argVerb)),
			zap.Error(internal),
		)
		return nil, internal
	}

	result := monitoring.ResultSuccess
	if len(protocolErrs) > 0 {
		result = monitoring.ResultProtocolError
		for _, pe := range protocolErrs {
			span.AddEvent("oai.error", trace.WithAttributes(attribute.String("oai.code", string(pe.Code))))
			monitoring.RecordOAIError(string(pe.Code))
		}
		body = nil
	}
	monitoring.RecordOAIRequest(req.Args.Get(argVerb), result, time.Since(started))

	return &Response{
		Verb:     verb,
		Errors:   protocolErrs,
		Document: e.envelope(c, protocolErrs, body),
	}, nil
}

func (e *Engine) dispatch(ctx context.Context, c *call) (*etree.Element, error) {
	handler, ok := e.handlers[c.verb]
	if !ok {
		return nil, protocolErrorf(CodeBadVerb, "%q is not a legal OAI-PMH verb", c.verb)
	}

	ctx, span := tracer.Start(ctx, "OAI.Engine."+string(c.verb))
	defer span.End()

	body, err := handler(ctx, c)
	if err != nil {
		span.RecordError(err)
	}
	return body, err
}

const (
	oaiNamespace      = "http://www.openarchives.org/OAI/2.0/"
	oaiSchemaLocation = oaiNamespace + " http://www.openarchives.org/OAI/2.0/OAI-PMH.xsd"
)

// envelope builds the OAI-PMH root. The request element echoes the verb and
// arguments only when there are no errors.
func (e *Engine) envelope(c *call, errs []*ProtocolError, body *etree.Element) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("OAI-PMH")
	root.CreateAttr("xmlns", oaiNamespace)
	root.CreateAttr("xmlns:xsi", metadata.XMLSchemaInstance)
	root.CreateAttr("xsi:schemaLocation", oaiSchemaLocation)

	root.CreateElement("responseDate").SetText(formatDatestamp(c.now))

	request := root.CreateElement("request")
	if len(errs) == 0 {
		request.CreateAttr(argVerb, string(c.verb))
		names := make([]string, 0, len(c.Args))
		for name := range c.Args {
			if name != argVerb {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			request.CreateAttr(name, c.Args.Get(name))
		}
	}
	request.SetText(c.BaseURL)

	for _, pe := range errs {
		el := root.CreateElement("error")
		el.CreateAttr("code", string(pe.Code))
		el.SetText(pe.Message)
	}
	if body != nil {
		root.AddChild(body)
	}

	doc.Indent(2)
	return doc
}

// header renders the record header.
func (e *Engine) header(c *call, key RecordKey, datestamp time.Time, setSpecs []string) *etree.Element {
	header := etree.NewElement("header")
	header.CreateElement("identifier").SetText(FormatIdentifier(c.Host, key.EntityType, key.EntityID))
	header.CreateElement("datestamp").SetText(formatDatestamp(datestamp))
	if e.settings.SetsEnabled {
		for _, spec := range setSpecs {
			header.CreateElement("setSpec").SetText(spec)
		}
	}
	return header
}

// record renders header and metadata for a loaded entity. The datestamp is
// the cached one so selection and output agree between rebuilds.
func (e *Engine) record(ctx context.Context, c *call, rec CachedRecord, entity *metadata.Entity, plugin metadata.Plugin, setSpecs []string) (*etree.Element, error) {
	md, err := e.metadataElement(ctx, plugin, entity)
	if err != nil {
		return nil, err
	}

	record := etree.NewElement("record")
	record.AddChild(e.header(c, rec.RecordKey, rec.Changed, setSpecs))
	record.AddChild(md)
	return record, nil
}

// metadataElement places the plugin fragment inside its wrapper element.
func (e *Engine) metadataElement(ctx context.Context, plugin metadata.Plugin, entity *metadata.Entity) (*etree.Element, error) {
	fragment, err := plugin.Transform(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("oai: render %s for %s/%s: %w", plugin.ID(), entity.Type, entity.ID, err)
	}

	spec := plugin.Wrapper()
	wrapper := etree.NewElement(spec.Name)
	for _, attr := range spec.Attrs {
		wrapper.CreateAttr(attr.Key, attr.Value)
	}

	if fragment != "" {
		parsed := etree.NewDocument()
		if err := parsed.ReadFromString(fragment); err != nil {
			return nil, fmt.Errorf("oai: parse %s output for %s/%s: %w", plugin.ID(), entity.Type, entity.ID, err)
		}
		for _, token := range append([]etree.Token(nil), parsed.Child...) {
			switch token.(type) {
			case *etree.ProcInst, *etree.Directive:
				continue
			}
			wrapper.AddChild(token)
		}
	}

	md := etree.NewElement("metadata")
	md.AddChild(wrapper)
	return md, nil
}
