package tools

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Capabilities maps tool names to risk levels. Tools absent from the table
// default to write_high: an unknown capability is assumed dangerous.
type Capabilities struct {
	risks map[string]Risk
}

// defaultCapabilities covers the built-in tools.
var defaultCapabilities = map[string]Risk{
	"current_time": RiskReadOnly,
	"http_get":     RiskReadOnly,
	"read_file":    RiskReadOnly,
	"list_dir":     RiskReadOnly,
	"write_file":   RiskWriteLow,
	"delete_file":  RiskWriteHigh,
	"shell_exec":   RiskWriteHigh,
	"send_email":   RiskWriteHigh,
}

// DefaultCapabilities returns the capability table for the built-in tools.
func DefaultCapabilities() *Capabilities {
	risks := make(map[string]Risk, len(defaultCapabilities))
	for name, risk := range defaultCapabilities {
		risks[name] = risk
	}
	return &Capabilities{risks: risks}
}

// LoadCapabilities reads a capability table from a YAML file mapping tool
// names to risk level strings. Entries override the built-in defaults.
func LoadCapabilities(path string) (*Capabilities, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capability file: %w", err)
	}
	var entries map[string]string
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing capability file: %w", err)
	}

	caps := DefaultCapabilities()
	for name, riskStr := range entries {
		risk, err := ParseRisk(riskStr)
		if err != nil {
			return nil, fmt.Errorf("capability for tool %q: %w", name, err)
		}
		caps.risks[name] = risk
	}
	return caps, nil
}

// RiskOf returns the risk level for a tool name, defaulting to write_high
// for tools not in the table.
func (c *Capabilities) RiskOf(name string) Risk {
	if risk, ok := c.risks[name]; ok {
		return risk
	}
	return RiskWriteHigh
}

// Set overrides the risk for one tool.
func (c *Capabilities) Set(name string, risk Risk) {
	c.risks[name] = risk
}
