package app

import (
	"fmt"
	"os"
	"strings"
)

const defaultRepositoryName = "OAI-PMH Repository"

var hostname = os.Hostname

// ApplyRuntimeDefaults fills repository settings that Identify needs but the
// configuration left empty. It returns the keys it generated so callers can log
// the event.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.OAI.RepositoryName) == "" {
		cfg.OAI.RepositoryName = defaultRepositoryName
		generated["oai.repository_name"] = true
	}

	if strings.TrimSpace(cfg.OAI.AdminEmail) == "" {
		cfg.OAI.AdminEmail = "admin@" + mailDomain()
		generated["oai.admin_email"] = true
	}

	if strings.TrimSpace(cfg.OAI.SampleEntityType) == "" {
		cfg.OAI.SampleEntityType = "node"
		generated["oai.sample_entity_type"] = true
	}

	return generated, nil
}

func mailDomain() string {
	host, err := hostname()
	host = strings.ToLower(strings.TrimSpace(host))
	if err != nil || !strings.Contains(host, ".") {
		return "localhost.localdomain"
	}
	return host
}
