package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://circuitsandbox.dev/schemas/"

var schemaFiles = map[string]string{
	TypeHello:   "hello.schema.json",
	TypeWelcome: "welcome.schema.json",
	TypeState:   "state.schema.json",
	TypeCmd:     "cmd.schema.json",
	TypeError:   "error.schema.json",
}

// Schemas holds the compiled message schemas keyed by message type.
type Schemas struct {
	byType map[string]*jsonschema.Schema
}

var (
	schemasOnce sync.Once
	schemas     *Schemas
	schemasErr  error
)

// LoadSchemas compiles the embedded schemas once per process.
func LoadSchemas() (*Schemas, error) {
	schemasOnce.Do(func() {
		schemas, schemasErr = compileSchemas()
	})
	return schemas, schemasErr
}

func compileSchemas() (*Schemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, name := range schemaFiles {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	out := &Schemas{byType: make(map[string]*jsonschema.Schema, len(schemaFiles))}
	for typ, name := range schemaFiles {
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out.byType[typ] = s
	}
	return out, nil
}

// Validate checks raw against the schema registered for msgType.
func (s *Schemas) Validate(msgType string, raw []byte) error {
	schema, ok := s.byType[msgType]
	if !ok {
		return fmt.Errorf("no schema for message type %q", msgType)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// ValidateValue marshals v and validates the result, for outgoing messages.
func (s *Schemas) ValidateValue(msgType string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Validate(msgType, raw)
}
