package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/alexcormier/setwp/internal/domain/release"
)

const schemaURL = "file:///setwp-install/catalog.schema.json"

//go:embed catalog.schema.json
var schemaSource []byte

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func schema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaSource)); err != nil {
			compiledSchemaErr = err

			return
		}

		compiledSchema, compiledSchemaErr = compiler.Compile(schemaURL)
	})

	return compiledSchema, compiledSchemaErr
}

// Validate checks a raw catalog document against the catalog schema.
func Validate(data []byte, format Format) error {
	var (
		doc any
		err error
	)

	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	default:
		var root yaml.Node

		if err = yaml.Unmarshal(data, &root); err == nil {
			doc, err = nodeValue(&root)
		}
	}

	if err != nil {
		return fmt.Errorf("parse catalog: %w: %w", release.ErrInvalidRelease, err)
	}

	compiled, err := schema()
	if err != nil {
		return fmt.Errorf("compile catalog schema: %w", err)
	}

	if err = compiled.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Errorf("catalog does not match schema: %w: %s", release.ErrInvalidRelease, validationErr.Error())
		}

		return fmt.Errorf("validate catalog: %w: %w", release.ErrInvalidRelease, err)
	}

	return nil
}

// nodeValue converts a YAML tree into plain values. Scalars stay strings unless
// they are booleans or nulls, matching how they decode into Document fields:
// an unquoted 1.1 or an all-digit checksum is still text.
func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}

		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.SequenceNode:
		items := make([]any, 0, len(n.Content))

		for _, child := range n.Content {
			v, err := nodeValue(child)
			if err != nil {
				return nil, err
			}

			items = append(items, v)
		}

		return items, nil
	case yaml.MappingNode:
		fields := make(map[string]any, len(n.Content)/2)

		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := nodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}

			fields[n.Content[i].Value] = v
		}

		return fields, nil
	default:
		switch n.ShortTag() {
		case "!!null":
			return nil, nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, err
			}

			return b, nil
		default:
			return n.Value, nil
		}
	}
}
