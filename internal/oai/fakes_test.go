package oai

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charlesng35/oaipmh/internal/metadata"
)

type fakeRecord struct {
	CachedRecord
	sets []string
}

// fakeCache is an in-memory RecordCache.
type fakeCache struct {
	mu      sync.Mutex
	records map[RecordKey]*fakeRecord
	sets    []Set
	err     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{records: make(map[RecordKey]*fakeRecord)}
}

func (f *fakeCache) addSet(spec, name string, pagerLimit int) {
	f.sets = append(f.sets, Set{Spec: spec, Name: name, PagerLimit: pagerLimit})
}

func (f *fakeCache) addRecord(entityType, entityID string, created, changed time.Time, sets ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := RecordKey{EntityType: entityType, EntityID: entityID}
	f.records[key] = &fakeRecord{
		CachedRecord: CachedRecord{RecordKey: key, Created: created, Changed: changed},
		sets:         sets,
	}
}

func (f *fakeCache) EarliestDatestamp(context.Context) (time.Time, bool, error) {
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	var earliest time.Time
	for _, rec := range f.records {
		if earliest.IsZero() || rec.Created.Before(earliest) {
			earliest = rec.Created
		}
	}
	return earliest, !earliest.IsZero(), nil
}

func (f *fakeCache) Sets(context.Context) ([]Set, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := append([]Set(nil), f.sets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Spec < out[j].Spec })
	return out, nil
}

func (f *fakeCache) matching(filter RecordFilter) []CachedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []CachedRecord
	for _, rec := range f.records {
		if len(rec.sets) == 0 {
			continue
		}
		if filter.Set != "" && !contains(rec.sets, filter.Set) {
			continue
		}
		if filter.From != nil && rec.Changed.Before(*filter.From) {
			continue
		}
		if filter.Until != nil && rec.Changed.After(*filter.Until) {
			continue
		}
		out = append(out, rec.CachedRecord)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

func (f *fakeCache) CountRecords(_ context.Context, filter RecordFilter) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(f.matching(filter))), nil
}

func (f *fakeCache) SelectRecords(_ context.Context, filter RecordFilter, offset, limit int) ([]CachedRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	all := f.matching(filter)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (f *fakeCache) SetSpecs(_ context.Context, keys []RecordKey) (map[RecordKey][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[RecordKey][]string, len(keys))
	for _, key := range keys {
		if rec, ok := f.records[key]; ok {
			specs := append([]string(nil), rec.sets...)
			sort.Strings(specs)
			out[key] = specs
		}
	}
	return out, nil
}

func (f *fakeCache) LookupRecord(_ context.Context, key RecordKey) (CachedRecord, bool, error) {
	if f.err != nil {
		return CachedRecord{}, false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok || len(rec.sets) == 0 {
		return CachedRecord{}, false, nil
	}
	return rec.CachedRecord, true, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// fakeEntities serves entities by "type/id".
type fakeEntities struct {
	entities map[string]*metadata.Entity
	err      error
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{entities: make(map[string]*metadata.Entity)}
}

func (f *fakeEntities) add(entity *metadata.Entity) {
	f.entities[entity.Type+"/"+entity.ID] = entity
}

func (f *fakeEntities) LoadEntity(_ context.Context, entityType, entityID string) (*metadata.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	entity, ok := f.entities[entityType+"/"+entityID]
	if !ok {
		return nil, metadata.ErrEntityNotFound
	}
	return entity, nil
}

// failingPlugin always fails to render.
type failingPlugin struct{ metadata.RawFields }

func (failingPlugin) Transform(context.Context, *metadata.Entity) (string, error) {
	return "", errors.New("template exploded")
}

type staticCatalog map[string]metadata.Plugin

func (s staticCatalog) Formats() []metadata.FormatDescriptor {
	var out []metadata.FormatDescriptor
	for _, p := range s {
		out = append(out, p.Format())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetadataPrefix < out[j].MetadataPrefix })
	return out
}

func (s staticCatalog) Plugin(prefix string) (metadata.Plugin, bool) {
	p, ok := s[prefix]
	return p, ok
}

