package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed pipeline.schema.json
var pipelineSchema []byte

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(pipelineSchema))
	})
	return compiledSchema, compileErr
}

// SchemaError lists every schema violation of a pipeline document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("pipeline document is invalid:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

// ValidateSchema checks a YAML pipeline document against the embedded JSON
// schema. It returns a *SchemaError when the document does not conform.
func ValidateSchema(doc []byte) error {
	schema, err := getSchema()
	if err != nil {
		return fmt.Errorf("compiling pipeline schema: %w", err)
	}
	var raw interface{}
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return fmt.Errorf("parse pipeline yaml: %w", err)
	}
	if raw == nil {
		return &SchemaError{Problems: []string{"document is empty"}}
	}
	js, err := json.Marshal(normalize(raw))
	if err != nil {
		return fmt.Errorf("pipeline document: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(js))
	if err != nil {
		return fmt.Errorf("validating pipeline document: %w", err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return &SchemaError{Problems: errs}
}

// normalize turns yaml.v3 output into values encoding/json accepts.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
