package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog exposes the metadata formats an administrator enabled, each backed
// by one registered plugin.
type Catalog struct {
	byPrefix map[string]Plugin
	formats  []FormatDescriptor
}

// NewCatalog binds each metadataPrefix to a plugin id. The plugin must exist
// and declare the same prefix.
func NewCatalog(registry *Registry, prefixes map[string]string) (*Catalog, error) {
	if registry == nil {
		return nil, fmt.Errorf("metadata: registry is required")
	}

	catalog := &Catalog{byPrefix: make(map[string]Plugin, len(prefixes))}
	for prefix, pluginID := range prefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return nil, fmt.Errorf("metadata: empty metadata prefix")
		}
		plugin, ok := registry.Get(pluginID)
		if !ok {
			return nil, fmt.Errorf("metadata: prefix %q maps to unknown plugin %q", prefix, pluginID)
		}
		if declared := plugin.Format().MetadataPrefix; declared != prefix {
			return nil, fmt.Errorf("metadata: plugin %q provides %q, not %q", pluginID, declared, prefix)
		}
		catalog.byPrefix[prefix] = plugin
		catalog.formats = append(catalog.formats, plugin.Format())
	}

	sort.Slice(catalog.formats, func(i, j int) bool {
		return catalog.formats[i].MetadataPrefix < catalog.formats[j].MetadataPrefix
	})
	return catalog, nil
}

// Formats lists the enabled formats sorted by prefix.
func (c *Catalog) Formats() []FormatDescriptor {
	return append([]FormatDescriptor(nil), c.formats...)
}

// Plugin returns the plugin serving prefix.
func (c *Catalog) Plugin(prefix string) (Plugin, bool) {
	plugin, ok := c.byPrefix[prefix]
	return plugin, ok
}
