package types

import (
	"time"
)

// Platform is the kind of entity.
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSwitch       Platform = "switch"
	PlatformNumber       Platform = "number"
	PlatformSelect       Platform = "select"
)

// Entity is the published state of a single entity.
type Entity struct {
	UniqueID      string   `json:"uniqueId"`
	EntryID       string   `json:"entryId,omitempty"`
	AccountNumber string   `json:"accountNumber,omitempty"`
	DeviceID      string   `json:"deviceId,omitempty"`
	Key           string   `json:"key"`
	Platform      Platform `json:"platform"`
	Name          string   `json:"name"`
	DeviceClass   string   `json:"deviceClass,omitempty"`
	StateClass    string   `json:"stateClass,omitempty"`
	Unit          string   `json:"unit,omitempty"`

	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Available  bool           `json:"available"`
	Enabled    bool           `json:"enabled"`
	// Pending is set while a control action waits for confirmation.
	Pending bool `json:"pending"`
	// Stale is set when the latest poll failed and State is carried over.
	Stale bool `json:"stale"`

	Options []string `json:"options,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Step    *float64 `json:"step,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// NumericState returns the state as a float for numeric and boolean
// entities.
func (e *Entity) NumericState() (float64, bool) {
	switch v := e.State.(type) {
	case float64:
		return v, true
	case *float64:
		if v == nil {
			return 0, false
		}
		return *v, true
	case int:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
