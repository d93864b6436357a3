package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

var schemaLoader = gojsonschema.NewStringLoader(schemaJSON)

// SchemaError lists every schema violation found in a config file, one
// "field: description" entry per problem, sorted.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "config schema validation failed: " + strings.Join(e.Problems, "; ")
}

// ValidateSettings checks raw file settings against the embedded JSON schema.
// It returns *SchemaError when the document is well formed but invalid.
func ValidateSettings(settings map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(settings))
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.Field()+": "+re.Description())
	}
	sort.Strings(problems)
	return &SchemaError{Problems: problems}
}
