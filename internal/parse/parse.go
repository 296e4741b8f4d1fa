// Package parse decodes import request documents from JSON or YAML.
package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lherron/iatisync/internal/iati"
)

// Format represents supported input formats
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat determines the format of the input data. Anything that looks
// like JSON must be valid JSON; otherwise it must be a YAML mapping.
func DetectFormat(data []byte) (Format, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", fmt.Errorf("empty input")
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var js json.RawMessage
		if err := json.Unmarshal(data, &js); err != nil {
			return "", fmt.Errorf("input appears to be JSON but is invalid: %w", err)
		}
		return FormatJSON, nil
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("input is neither JSON nor YAML: %w", err)
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return "", fmt.Errorf("input must be a JSON or YAML object")
	}
	return FormatYAML, nil
}

// FormatFromPath infers the format from a file extension, or "" when the
// extension is not recognised.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// ParseJSON decodes a JSON import request. Unknown fields are rejected so a
// misspelt group name does not silently import nothing.
func ParseJSON(data []byte) (*iati.Request, error) {
	var req iati.Request
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &req, nil
}

// ParseYAML decodes a YAML import request. The document is normalised
// through JSON so decimal values and field names decode exactly as they do
// for JSON requests.
func ParseYAML(data []byte) (*iati.Request, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	converted, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return ParseJSON(converted)
}

// Request parses an import request in the given format, auto-detecting when
// format is empty.
func Request(data []byte, format string) (*iati.Request, error) {
	detected := Format(format)
	if format == "" {
		var err error
		detected, err = DetectFormat(data)
		if err != nil {
			return nil, err
		}
	}

	switch detected {
	case FormatJSON:
		return ParseJSON(data)
	case FormatYAML, "yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
