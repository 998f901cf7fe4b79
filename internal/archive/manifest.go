package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ManifestFilename is looked up at the repository root of an upload.
const ManifestFilename = "audit.json"

// Manifest is the optional per-archive overrides file. Every field is
// optional; the server falls back to request parameters and detection.
type Manifest struct {
	Name   string `json:"name,omitempty"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	Query  string `json:"query,omitempty"`
}

// buildManifestSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. Validated locally before any manifest value is trusted.
func buildManifestSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":   map[string]any{"type": "string", "minLength": 1, "maxLength": 200},
			"branch": map[string]any{"type": "string", "maxLength": 200},
			"commit": map[string]any{"type": "string", "pattern": `^[0-9a-fA-F]{0,64}$`},
			"query":  map[string]any{"type": "string", "maxLength": 4000},
		},
	}
}

// ReadManifest loads and validates audit.json under repoRoot. A missing file
// is not an error; a malformed or schema-violating one is.
func ReadManifest(repoRoot string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(repoRoot, ManifestFilename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", ManifestFilename, err)
	}

	if err := validateAgainstSchema(buildManifestSchema(), raw); err != nil {
		return nil, fmt.Errorf("%s: %w", ManifestFilename, err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFilename, err)
	}
	return &m, nil
}

// validateAgainstSchema validates "data" against "schemaMap".
func validateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
