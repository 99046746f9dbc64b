package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAML workflow definitions carry actions as flat maps with a "kind"
// key, which selects the variant to decode into.

func decodeActionNodes(nodes []yaml.Node) ([]Action, error) {
	items := make([]Action, 0, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		var probe struct {
			Kind string `yaml:"kind"`
		}
		if err := node.Decode(&probe); err != nil {
			return nil, err
		}
		action, err := NewActionOfKind(probe.Kind)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if err := node.Decode(action); err != nil {
			return nil, fmt.Errorf("item %d (%s): %w", i, probe.Kind, err)
		}
		items = append(items, action)
	}
	return items, nil
}

func (s *Status) UnmarshalYAML(node *yaml.Node) error {
	var alias struct {
		ID             string      `yaml:"id"`
		Name           string      `yaml:"name"`
		Items          []yaml.Node `yaml:"items"`
		ForcedEndpoint bool        `yaml:"forced_endpoint"`
		VisibleBy      []string    `yaml:"visible_by"`
	}
	if err := node.Decode(&alias); err != nil {
		return err
	}
	s.ID = alias.ID
	s.Name = alias.Name
	s.ForcedEndpoint = alias.ForcedEndpoint
	s.VisibleBy = alias.VisibleBy
	items, err := decodeActionNodes(alias.Items)
	if err != nil {
		return fmt.Errorf("status %s: %w", alias.ID, err)
	}
	s.Items = items
	return nil
}

func (g *GlobalAction) UnmarshalYAML(node *yaml.Node) error {
	var alias struct {
		ID       string      `yaml:"id"`
		Name     string      `yaml:"name"`
		Items    []yaml.Node `yaml:"items"`
		Triggers []Trigger   `yaml:"triggers"`
	}
	if err := node.Decode(&alias); err != nil {
		return err
	}
	g.ID = alias.ID
	g.Name = alias.Name
	g.Triggers = alias.Triggers
	items, err := decodeActionNodes(alias.Items)
	if err != nil {
		return fmt.Errorf("global action %s: %w", alias.ID, err)
	}
	g.Items = items
	return nil
}
