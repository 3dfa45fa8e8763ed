package database

import (
	"fmt"
	"sort"
)

// applicationName identifies provider sessions on the database server.
const applicationName = "oaipmh"

// connectionOptions overlays configured options on driver defaults and
// returns key=value pairs sorted by key.
func connectionOptions(defaults, configured map[string]string) []string {
	merged := make(map[string]string, len(defaults)+len(configured))
	for key, value := range defaults {
		merged[key] = value
	}
	for key, value := range configured {
		merged[key] = value
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, merged[key]))
	}
	return pairs
}
