package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tree is a hierarchical run configuration: nested mappings and sequences
// with scalar leaves, as decoded from YAML.
type Tree map[string]any

// LoadTree merges zero or more YAML files in order, later files overriding
// earlier ones, then applies dotlist overrides of the form "a.b.c=value".
func LoadTree(paths []string, overrides []string) (Tree, error) {
	tree := Tree{}
	for _, path := range paths {
		loaded, err := ReadTree(path)
		if err != nil {
			return nil, err
		}
		tree.Merge(loaded)
	}
	for _, override := range overrides {
		key, value, found := strings.Cut(override, "=")
		if !found {
			return nil, fmt.Errorf("invalid override %q (expected key.path=value)", override)
		}
		tree.Set(key, parseScalar(value))
	}
	return tree, nil
}

// ReadTree loads a single YAML file into a Tree.
func ReadTree(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var tree Tree
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if tree == nil {
		tree = Tree{}
	}
	return tree, nil
}

// Write saves the tree as YAML to the given path.
func (t Tree) Write(path string) error {
	data, err := yaml.Marshal(map[string]any(t))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// Merge overlays another tree on top of this one. Nested mappings merge
// recursively; everything else is replaced wholesale.
func (t Tree) Merge(other Tree) {
	for key, value := range other {
		if sub, ok := value.(map[string]any); ok {
			if existing, ok := t[key].(map[string]any); ok {
				Tree(existing).Merge(sub)
				continue
			}
		}
		t[key] = value
	}
}

// Set assigns a value at a dotted key path, creating intermediate mappings
// as needed.
func (t Tree) Set(path string, value any) {
	keys := strings.Split(path, ".")
	node := map[string]any(t)
	for _, key := range keys[:len(keys)-1] {
		next, ok := node[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[key] = next
		}
		node = next
	}
	node[keys[len(keys)-1]] = value
}

// Get looks up a value at a dotted key path.
func (t Tree) Get(path string) (any, bool) {
	keys := strings.Split(path, ".")
	var node any = map[string]any(t)
	for _, key := range keys {
		mapping, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = mapping[key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// GetString returns a string value at a dotted key path, or fallback if the
// path is absent or not a string.
func (t Tree) GetString(path, fallback string) string {
	if value, ok := t.Get(path); ok {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return fallback
}

// GetInt returns an integer value at a dotted key path, or fallback.
func (t Tree) GetInt(path string, fallback int64) int64 {
	if value, ok := t.Get(path); ok {
		switch v := value.(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return fallback
}

// Flatten converts the tree to a sorted flat map of dotted key paths to
// stringified scalar values, for mirroring as tracking parameters.
func (t Tree) Flatten() map[string]string {
	flat := make(map[string]string)
	flattenInto(flat, "", map[string]any(t))
	return flat
}

func flattenInto(flat map[string]string, prefix string, node any) {
	switch v := node.(type) {
	case map[string]any:
		for _, key := range sortedKeys(v) {
			flattenInto(flat, joinPath(prefix, key), v[key])
		}
	case []any:
		for i, elem := range v {
			flattenInto(flat, joinPath(prefix, strconv.Itoa(i)), elem)
		}
	default:
		flat[prefix] = fmt.Sprintf("%v", v)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// parseScalar interprets a dotlist override value the way YAML would.
func parseScalar(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if raw == "null" || raw == "~" {
		return nil
	}
	return raw
}
