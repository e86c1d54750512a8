package loader

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// EventSchemas compiles and validates event payloads against per-event JSON
// Schemas declared in the wire definition's optional top-level
// "eventSchemas" map. Payloads are opaque to the interpreter itself; schema
// validation is an opt-in boundary check hosts can run before Send.
type EventSchemas struct {
	compiled map[string]*jsonschema.Schema
}

// Validate checks payload (already decoded into a Go value, typically via
// json.Unmarshal into any) against the schema registered for eventType. A
// nil error is returned when no schema was declared for eventType.
func (s *EventSchemas) Validate(eventType string, payload any) error {
	if s == nil {
		return nil
	}
	sch, ok := s.compiled[eventType]
	if !ok {
		return nil
	}
	if err := sch.Validate(payload); err != nil {
		return &LoadError{Kind: UnknownEventSchema, Path: eventType, Msg: err.Error()}
	}
	return nil
}

func compileEventSchemas(raw map[string]json.RawMessage) (*EventSchemas, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	out := &EventSchemas{compiled: make(map[string]*jsonschema.Schema, len(raw))}
	for eventType, schemaBytes := range raw {
		resourceName := fmt.Sprintf("mem://event/%s.json", eventType)
		var doc any
		if err := json.Unmarshal(schemaBytes, &doc); err != nil {
			return nil, newErr(UnknownEventSchema, eventType, "invalid schema JSON: %v", err)
		}
		if err := compiler.AddResource(resourceName, doc); err != nil {
			return nil, newErr(UnknownEventSchema, eventType, "add schema resource: %v", err)
		}
		sch, err := compiler.Compile(resourceName)
		if err != nil {
			return nil, newErr(UnknownEventSchema, eventType, "compile schema: %v", err)
		}
		out.compiled[eventType] = sch
	}
	return out, nil
}
