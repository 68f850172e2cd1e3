package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/codexec/types"
)

// catalogEntry is one tool in a YAML catalog file. Response is the
// canned JSON the tool returns when invoked, which makes the CLI useful
// for exercising code against a catalog without live backends.
type catalogEntry struct {
	Server      string `yaml:"server"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	InputSchema string `yaml:"input_schema"`
	Example     string `yaml:"example"`
	Response    string `yaml:"response"`
}

type catalogFile struct {
	Tools []catalogEntry `yaml:"tools"`
}

// loadCatalog reads a YAML tool catalog and binds a canned-response
// handler to each entry.
func loadCatalog(path string) ([]types.ToolDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	descriptors := make([]types.ToolDescriptor, 0, len(file.Tools))
	for _, entry := range file.Tools {
		response := entry.Response
		if response == "" {
			response = "{}"
		}
		if !json.Valid([]byte(response)) {
			return nil, fmt.Errorf("tool %s/%s: response is not valid JSON", entry.Server, entry.Name)
		}
		canned := json.RawMessage(response)
		descriptors = append(descriptors, types.ToolDescriptor{
			Server:      entry.Server,
			Name:        entry.Name,
			Description: entry.Description,
			InputSchema: json.RawMessage(entry.InputSchema),
			Example:     entry.Example,
			Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
				return canned, nil
			},
		})
	}
	return descriptors, nil
}
