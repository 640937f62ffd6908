package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Capability is a known model feature flag. Capabilities are stored as a
// jsonb object of capability -> bool; unknown keys are rejected at write
// time instead of being carried as an open dictionary.
type Capability string

const (
	CapabilityVision          Capability = "vision"
	CapabilityFunctionCalling Capability = "function_calling"
	CapabilityStreaming       Capability = "streaming"
	CapabilityJSONMode        Capability = "json_mode"
	CapabilityToolUse         Capability = "tool_use"
	CapabilityReasoning       Capability = "reasoning"
	CapabilityAudioInput      Capability = "audio_input"
	CapabilityWebSearch       Capability = "web_search"
)

// IsValid checks if the capability is one of the known flags.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityVision, CapabilityFunctionCalling, CapabilityStreaming,
		CapabilityJSONMode, CapabilityToolUse, CapabilityReasoning,
		CapabilityAudioInput, CapabilityWebSearch:
		return true
	default:
		return false
	}
}

// Capabilities maps known capability flags to their enabled state.
type Capabilities map[Capability]bool

// Validate rejects unknown capability keys.
func (c Capabilities) Validate() error {
	for key := range c {
		if !key.IsValid() {
			return fmt.Errorf("unknown capability %q", key)
		}
	}
	return nil
}

// Has reports whether the capability is present and enabled.
func (c Capabilities) Has(cap Capability) bool {
	return c[cap]
}

// Value implements driver.Valuer for jsonb storage.
func (c Capabilities) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for jsonb storage.
func (c *Capabilities) Scan(value interface{}) error {
	if value == nil {
		*c = Capabilities{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Capabilities", value)
	}

	return json.Unmarshal(data, c)
}
