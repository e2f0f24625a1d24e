package schemacache

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Definition is the on-disk description of one schema
type Definition struct {
	ID    int64            `yaml:"id"`
	Tag   string           `yaml:"tag"`
	Types []TypeDefinition `yaml:"types"`
}

// TypeDefinition describes one type of a schema
type TypeDefinition struct {
	ID              int64                 `yaml:"id"`
	Tag             string                `yaml:"tag"`
	Kind            string                `yaml:"kind"`
	Parent          string                `yaml:"parent"`
	Left            string                `yaml:"left"`
	Right           string                `yaml:"right"`
	KeepHistoryDays int                   `yaml:"keephistorydays"`
	Person          bool                  `yaml:"person"`
	Attributes      []AttributeDefinition `yaml:"attributes"`
}

// AttributeDefinition describes one attribute; array attributes nest their members
type AttributeDefinition struct {
	ID            int64                 `yaml:"id"`
	Tag           string                `yaml:"tag"`
	Type          string                `yaml:"type"`
	Required      bool                  `yaml:"required"`
	Unique        bool                  `yaml:"unique"`
	Ordered       bool                  `yaml:"ordered"`
	CheckLinks    bool                  `yaml:"checklinks"`
	Domain        string                `yaml:"domain"`
	AllowedValues []string              `yaml:"allowedvalues"`
	MaxLength     int                   `yaml:"maxlength"`
	Attributes    []AttributeDefinition `yaml:"attributes"`
}

// ParseDefinition decodes a YAML schema definition
func ParseDefinition(data []byte, source string) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse schema definition %s: %w", source, err)
	}
	if def.Tag == "" {
		return nil, fmt.Errorf("schema definition %s has no tag", source)
	}
	return &def, nil
}
