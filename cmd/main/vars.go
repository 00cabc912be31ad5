package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/Nepenthes/pkg/vars"
	"github.com/dustin/go-humanize"
	"github.com/imdario/mergo"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// readVarLayer decodes one variable file. JSON files are checked with
// encoding/json first and then decoded with YAML so integers stay integers.
func readVarLayer(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read variable file: %w", err)
	}
	layer := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err = json.Unmarshal(data, &map[string]any{}); err != nil {
			return nil, fmt.Errorf("failed to decode JSON variables %s: %w", path, err)
		}
		if err = yaml.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON variables %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err = yaml.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML variables %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("variable file %s has an unsupported extension", path)
	}
	return layer, nil
}

// mergeVarLayers merges the given layers in order, later layers overriding
// earlier ones key by key.
func mergeVarLayers(layers ...map[string]any) (map[string]any, error) {
	merged := make(map[string]any)
	for index, layer := range layers {
		if err := mergo.Merge(&merged, layer, mergo.WithOverride, mergo.WithOverwriteWithEmptyValue); err != nil {
			return nil, fmt.Errorf("failed to merge %s variables layer: %w", humanize.Ordinal(index+1), err)
		}
	}
	return merged, nil
}

// validateVars checks values against the JSON schema stored at schemaPath.
func validateVars(values map[string]any, schemaPath string) error {
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read variable schema: %w", err)
	}
	validator, err := jsonschema.CompileString("schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("failed to compile variable schema %s: %w", schemaPath, err)
	}
	if err = validator.Validate(values); err != nil {
		return fmt.Errorf("variables failed schema validation: %w", err)
	}
	return nil
}

// mergeVars reads the variable files, merges them with extra on top and
// validates the result when schemaPath is set.
func mergeVars(paths []string, schemaPath string, extra map[string]any) (map[string]any, error) {
	layers := make([]map[string]any, 0, len(paths)+1)
	for _, path := range paths {
		layer, err := readVarLayer(path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	if len(extra) > 0 {
		layers = append(layers, extra)
	}

	merged, err := mergeVarLayers(layers...)
	if err != nil {
		return nil, err
	}
	if schemaPath != "" {
		if err = validateVars(merged, schemaPath); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// loadVars returns the merged variables as a variable context. Lists of maps
// become loop lists.
func loadVars(paths []string, schemaPath string, extra map[string]any, opts ...vars.Option) (*vars.Context, error) {
	merged, err := mergeVars(paths, schemaPath, extra)
	if err != nil {
		return nil, err
	}
	c := vars.New(opts...)
	c.SetMany(merged)
	return c, nil
}
