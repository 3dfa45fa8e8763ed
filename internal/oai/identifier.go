package oai

import "strings"

const identifierScheme = "oai"

// FormatIdentifier builds oai:<host>:<entityType>-<entityID>.
func FormatIdentifier(host, entityType, entityID string) string {
	return identifierScheme + ":" + host + ":" + entityType + "-" + entityID
}

// ParseIdentifier splits an identifier issued for host. The entity type ends
// at the first "-".
func ParseIdentifier(identifier, host string) (RecordKey, bool) {
	prefix := identifierScheme + ":" + host + ":"
	rest, ok := strings.CutPrefix(identifier, prefix)
	if !ok {
		return RecordKey{}, false
	}
	entityType, entityID, ok := strings.Cut(rest, "-")
	if !ok || entityType == "" || entityID == "" {
		return RecordKey{}, false
	}
	return RecordKey{EntityType: entityType, EntityID: entityID}, true
}
