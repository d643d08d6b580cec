package catalog

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// file is the YAML document layout.
type file struct {
	Sections []sectionSpec `yaml:"sections"`
}

type sectionSpec struct {
	Key        string            `yaml:"key"`
	Title      string            `yaml:"title"`
	Kind       string            `yaml:"kind"`
	Autosave   duration          `yaml:"autosave"`
	Fields     orderedFields     `yaml:"fields"`
	Formatters map[string]string `yaml:"formatters"`
	Lists      []listSpec        `yaml:"lists"`
	Rules      []ruleSpec        `yaml:"rules"`
}

type listSpec struct {
	Name       string            `yaml:"name"`
	Title      string            `yaml:"title"`
	MinItems   int               `yaml:"min_items"`
	MaxItems   int               `yaml:"max_items"`
	Template   orderedFields     `yaml:"template"`
	Exclusive  []string          `yaml:"exclusive"`
	Formatters map[string]string `yaml:"formatters"`
}

type ruleSpec struct {
	Kind    string     `yaml:"kind"`
	List    string     `yaml:"list"`
	Min     int        `yaml:"min"`
	Field   string     `yaml:"field"`
	Fields  []string   `yaml:"fields"`
	When    string     `yaml:"when"`
	Equals  string     `yaml:"equals"`
	Other   string     `yaml:"other"`
	Message string     `yaml:"message"`
	Checks  []ruleSpec `yaml:"checks"`
}

// orderedFields keeps the YAML key order so templates render in the order
// they were written.
type orderedFields struct {
	Names  []string
	Values map[string]any
}

func (o *orderedFields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of field defaults", node.Line)
	}
	o.Values = make(map[string]any, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		if valueNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: field %q must have a scalar default", valueNode.Line, keyNode.Value)
		}
		var value any
		if err := valueNode.Decode(&value); err != nil {
			return fmt.Errorf("line %d: field %q: %w", valueNode.Line, keyNode.Value, err)
		}
		if _, dup := o.Values[keyNode.Value]; dup {
			return fmt.Errorf("line %d: duplicate field %q", keyNode.Line, keyNode.Value)
		}
		o.Names = append(o.Names, keyNode.Value)
		o.Values[keyNode.Value] = value
	}
	return nil
}

type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	if text == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, text, err)
	}
	*d = duration(parsed)
	return nil
}
