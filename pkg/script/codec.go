package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a serialization format for documents at rest.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the serialization format from a file extension.
// Unknown extensions are written as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Encode serializes a normalized copy of s. The caller's value is not
// modified.
func Encode(s Script, f Format) ([]byte, error) {
	c := s.Clone()
	c.Normalize()
	return marshal(c, f)
}

// Encode serializes the legacy document with its action count recomputed.
func (l Legacy) Encode(f Format) ([]byte, error) {
	if l.Actions == nil {
		l.Actions = []Action{}
	}
	l.Metadata.ActionCount = len(l.Actions)
	return marshal(l, f)
}

func marshal(v any, f Format) ([]byte, error) {
	switch f {
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return data, nil
	case FormatJSON, "":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}
}

// Decode parses a step-based document strictly: unknown fields, wrong types
// and malformed actions are errors. Damaged documents go through the repair
// engine instead.
func Decode(data []byte, f Format) (*Script, error) {
	var s Script
	switch f {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatJSON, "":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}
	for key, a := range s.ActionPool {
		if a.ID != key {
			return nil, fmt.Errorf("action_pool[%s]: id %q does not match key", key, a.ID)
		}
	}
	s.Normalize()
	return &s, nil
}
