package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://gridvoice.local/schemas/"

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

var (
	schemasOnce sync.Once
	schemas     map[Type]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		schemasErr = err
		return
	}
	for _, e := range entries {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(b)); err != nil {
			schemasErr = fmt.Errorf("add schema %s: %w", e.Name(), err)
			return
		}
	}
	schemas = make(map[Type]*jsonschema.Schema)
	for _, t := range []Type{TypeJoin, TypeMove, TypeSignal, TypePing} {
		s, err := c.Compile(schemaBase + string(t) + ".schema.json")
		if err != nil {
			schemasErr = fmt.Errorf("compile schema %s: %w", t, err)
			return
		}
		schemas[t] = s
	}
}

// Parse reads the type of an inbound client message and validates it against the
// schema for that type. The returned error wraps ErrMalformed or ErrUnknownType.
func Parse(data []byte) (Type, error) {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return "", schemasErr
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: not an object", ErrMalformed)
	}
	raw, _ := obj["type"].(string)
	t := Type(raw)
	s, ok := schemas[t]
	if !ok {
		return t, fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
	if err := s.Validate(doc); err != nil {
		return t, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return t, nil
}
