// Package schema loads record schemas and site hints and validates records
// against a schema.
package schema

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

// LoadSchema reads a schema document from path. An empty path yields the
// default schema.
func LoadSchema(path string) (crawler.Schema, error) {
	if path == "" {
		return crawler.DefaultSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return crawler.Schema{}, fmt.Errorf("read schema %s: %w", path, err)
	}
	s, err := ParseSchema(data)
	if err != nil {
		return crawler.Schema{}, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return s, nil
}

// ParseSchema decodes a JSON or YAML schema. Two forms are accepted: a simple
// mapping of field name to type token, kept in document order, and an
// expanded {fields: [...]} list.
func ParseSchema(data []byte) (crawler.Schema, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return crawler.Schema{}, fmt.Errorf("decode: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return crawler.Schema{}, errors.New("empty schema document")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return crawler.Schema{}, errors.New("schema must be a mapping")
	}

	var s crawler.Schema
	if fieldsNode := mappingValue(doc, "fields"); fieldsNode != nil && fieldsNode.Kind == yaml.SequenceNode {
		if err := fieldsNode.Decode(&s.Fields); err != nil {
			return crawler.Schema{}, fmt.Errorf("decode fields: %w", err)
		}
	} else {
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key, value := doc.Content[i], doc.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return crawler.Schema{}, fmt.Errorf("field %q: type must be a string token", key.Value)
			}
			s.Fields = append(s.Fields, crawler.FieldSchema{
				Name: key.Value,
				Type: crawler.FieldType(strings.TrimSpace(value.Value)),
			})
		}
	}
	if err := Check(s); err != nil {
		return crawler.Schema{}, err
	}
	return s, nil
}

// Check enforces unique, non-empty field names, known type tokens and
// compilable patterns.
func Check(s crawler.Schema) error {
	if len(s.Fields) == 0 {
		return errors.New("schema has no fields")
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return errors.New("field with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		if f.Pattern != "" {
			if _, err := regexp.Compile(f.Pattern); err != nil {
				return fmt.Errorf("field %q: invalid pattern: %w", f.Name, err)
			}
		}
	}
	return nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
