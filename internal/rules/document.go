package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrInvalidTemplate wraps every parse failure.
var ErrInvalidTemplate = errors.New("invalid template")

// MaxConditionDepth bounds nesting of And, Or and Not.
const MaxConditionDepth = 32

//go:embed template.schema.json
var templateSchemaSource string

var templateSchema = jsonschema.MustCompileString("template.schema.json", templateSchemaSource)

// Schema returns the JSON Schema that documents are validated against.
func Schema() string {
	return templateSchemaSource
}

// Parse decodes a YAML (or JSON) template document. The document is checked
// against the template schema before it is decoded into typed rules, and
// fields no rule, condition or action defines are rejected.
func Parse(doc []byte) (t *Template, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("%w: decoder panic: %v", ErrInvalidTemplate, r)
		}
	}()

	var raw any
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidTemplate)
	}
	value, err := jsonValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	if err := templateSchema.Validate(value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	var tmpl Template
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	if err := dec.Decode(&tmpl); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	if err := tmpl.check(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	return &tmpl, nil
}

// Marshal encodes t in the document format accepted by Parse.
func Marshal(t *Template) ([]byte, error) {
	out, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal template %s: %w", t.Name, err)
	}
	return out, nil
}

// jsonValue converts a decoded YAML tree into the shape encoding/json
// produces, which is what the schema validator expects.
func jsonValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Template) check() error {
	for i, r := range t.Rules {
		var err error
		r.Walk(func(c Condition, depth int) {
			if err == nil && depth > MaxConditionDepth {
				err = fmt.Errorf("rule %d (%s): conditions nested deeper than %d", i, r.Name, MaxConditionDepth)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
