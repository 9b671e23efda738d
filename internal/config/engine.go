package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadEngineConfig reads the engine construction document. YAML files
// (.yaml, .yml) are converted to JSON; anything else must already be JSON.
func LoadEngineConfig(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLToJSON(data)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("engine config %s is not valid json", path)
	}
	return data, nil
}

// YAMLToJSON converts one YAML document to JSON.
func YAMLToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse engine config yaml: %w", err)
	}
	doc, err := jsonable(doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// jsonable rewrites map[any]any nodes, which encoding/json rejects.
func jsonable(node any) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			conv, err := jsonable(v)
			if err != nil {
				return nil, err
			}
			n[k] = conv
		}
		return n, nil
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			conv, err := jsonable(v)
			if err != nil {
				return nil, err
			}
			out[key] = conv
		}
		return out, nil
	case []any:
		for i, v := range n {
			conv, err := jsonable(v)
			if err != nil {
				return nil, err
			}
			n[i] = conv
		}
		return n, nil
	default:
		return node, nil
	}
}
