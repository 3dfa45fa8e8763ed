package metadata

import (
	"errors"
	"sort"
	"time"
)

// ErrEntityNotFound is returned by entity loaders when an entity does not
// exist or may not be shown to harvesters.
var ErrEntityNotFound = errors.New("metadata: entity not found")

// DateLayout is the second-granular UTC layout used for every datestamp.
const DateLayout = "2006-01-02T15:04:05Z"

// Implicit field names every entity exposes next to its own fields.
const (
	FieldTitle   = "title"
	FieldCreated = "created"
	FieldChanged = "changed"
)

// Entity is a repository item as seen by metadata plugins.
type Entity struct {
	Type    string
	ID      string
	Bundle  string
	Label   string
	Fields  map[string][]string
	Created time.Time
	Changed time.Time
}

// FieldValues returns the entity fields plus the implicit title, created and
// changed fields. Explicit fields with the same name take precedence.
func (e *Entity) FieldValues() map[string][]string {
	out := make(map[string][]string, len(e.Fields)+3)
	if e.Label != "" {
		out[FieldTitle] = []string{e.Label}
	}
	if !e.Created.IsZero() {
		out[FieldCreated] = []string{e.Created.UTC().Format(DateLayout)}
	}
	if !e.Changed.IsZero() {
		out[FieldChanged] = []string{e.Changed.UTC().Format(DateLayout)}
	}
	for name, values := range e.Fields {
		if len(values) == 0 {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func sortedFieldNames(fields map[string][]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
