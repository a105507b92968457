// Package provider resolves tagged configuration values to concrete capability
// implementations (transcribers, synthesizers, agents, noise cancelers, context
// trackers, VAD backends and call actions).
//
// Every provider configuration is a JSON object with a required "type"
// discriminator. The discriminator selects the constructor; the remaining fields
// are decoded strictly into the constructor's own parameter struct, so unknown
// fields are rejected instead of ignored.
package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const typeField = "type"

// Config is a tagged provider configuration value.
type Config struct {
	Type string

	// raw holds the object without the discriminator field.
	raw json.RawMessage
}

// New builds a Config from a tag and a parameter value that marshals to a JSON object.
// A nil params value yields a config with no parameters.
func New(tag string, params any) (Config, error) {
	if tag == "" {
		return Config{}, fmt.Errorf("%w: empty type", ErrInvalidConfig)
	}
	if params == nil {
		return Config{Type: tag, raw: json.RawMessage("{}")}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return Config{}, fmt.Errorf("%w: params must be an object: %v", ErrInvalidConfig, err)
	}
	delete(fields, typeField)
	raw, err := json.Marshal(fields)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return Config{Type: tag, raw: raw}, nil
}

// MustNew is New for static defaults; it panics on error.
func MustNew(tag string, params any) Config {
	cfg, err := New(tag, params)
	if err != nil {
		panic(err)
	}
	return cfg
}

// UnmarshalJSON requires an object with a non-empty string "type" field.
func (c *Config) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: expected an object: %v", ErrInvalidConfig, err)
	}
	rawType, ok := fields[typeField]
	if !ok {
		return fmt.Errorf("%w: missing %q discriminator", ErrInvalidConfig, typeField)
	}
	var tag string
	if err := json.Unmarshal(rawType, &tag); err != nil || tag == "" {
		return fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidConfig, typeField)
	}
	delete(fields, typeField)
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.Type = tag
	c.raw = raw
	return nil
}

// MarshalJSON writes the discriminator back next to the parameters.
func (c Config) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(c.raw) > 0 {
		if err := json.Unmarshal(c.raw, &fields); err != nil {
			return nil, err
		}
	}
	tag, err := json.Marshal(c.Type)
	if err != nil {
		return nil, err
	}
	fields[typeField] = tag
	return json.Marshal(fields)
}

// Decode decodes the parameters into dst, rejecting fields dst does not declare.
func (c Config) Decode(dst any) error {
	raw := c.raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// IsZero reports whether the config was never set.
func (c Config) IsZero() bool {
	return c.Type == ""
}
