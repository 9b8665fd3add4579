package portal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sai-cam/agentd/internal/agentconfig"
)

// redactedConfig wraps agentconfig.Redacted so handlers.go doesn't need to
// import agentconfig just for this one call.
func redactedConfig(cfg *agentconfig.NodeConfig) *agentconfig.NodeConfig {
	return agentconfig.Redacted(cfg)
}

// writeCameraPosition rewrites one camera's position field in the YAML
// config on disk, preserving every other key and the document's key
// ordering. cameras.* is not in the reloadable whitelist (spec.md §4.5),
// so this takes effect only after the next restart.
func writeCameraPosition(configPath, cameraID, position string) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if len(doc.Content) == 0 {
		return fmt.Errorf("empty config document")
	}

	camerasNode := findMapValue(doc.Content[0], "cameras")
	if camerasNode == nil || camerasNode.Kind != yaml.SequenceNode {
		return fmt.Errorf("cameras section not found")
	}

	found := false
	for _, camNode := range camerasNode.Content {
		if camNode.Kind != yaml.MappingNode {
			continue
		}
		idNode := findMapValue(camNode, "id")
		if idNode == nil || idNode.Value != cameraID {
			continue
		}
		found = true
		if posNode := findMapValue(camNode, "position"); posNode != nil {
			posNode.Value = position
		} else {
			camNode.Content = append(camNode.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: "position"},
				&yaml.Node{Kind: yaml.ScalarNode, Value: position})
		}
		break
	}
	if !found {
		return fmt.Errorf("camera %s not found in config", cameraID)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(configPath, out, 0o644)
}

// WriteDottedConfigKey rewrites a single dotted key path (e.g.
// "monitoring.max_cpu_percent") in the YAML config on disk, preserving every
// other key and the document's key ordering. Intermediate mapping nodes are
// created if absent; the final segment's scalar value is replaced or added.
// Callers are responsible for checking the key against
// fleet.allowed_config_keys before calling this (spec.md §4.7 ForbiddenConfigKey).
func WriteDottedConfigKey(configPath, dottedKey, value string) error {
	segments := splitDotted(dottedKey)
	if len(segments) == 0 {
		return fmt.Errorf("empty config key")
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("empty or malformed config document")
	}

	mapping := doc.Content[0]
	for _, seg := range segments[:len(segments)-1] {
		next := findMapValue(mapping, seg)
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			mapping.Content = append(mapping.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: seg}, next)
		} else if next.Kind != yaml.MappingNode {
			return fmt.Errorf("config key %q: %q is not a mapping", dottedKey, seg)
		}
		mapping = next
	}

	leaf := segments[len(segments)-1]
	if valNode := findMapValue(mapping, leaf); valNode != nil {
		if valNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("config key %q does not resolve to a scalar", dottedKey)
		}
		valNode.Value = value
		valNode.Tag = ""
		valNode.Style = 0
	} else {
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: leaf},
			&yaml.Node{Kind: yaml.ScalarNode, Value: value})
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(configPath, out, 0o644)
}

func splitDotted(key string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			if i > start {
				segs = append(segs, key[start:i])
			}
			start = i + 1
		}
	}
	if start < len(key) {
		segs = append(segs, key[start:])
	}
	return segs
}

// findMapValue returns the value node paired with key in a YAML mapping
// node, or nil if absent.
func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
