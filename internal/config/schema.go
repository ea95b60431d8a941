package config

import (
	"encoding/json"
	"path"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error

	rulesOnce     sync.Once
	rulesJSON     []byte
	rulesCompiled *validator.Schema
	rulesErr      error
)

// JSONSchema returns the JSON Schema for the Config struct.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		schemaJSON, schemaErr = reflectSchema(&Config{})
	})
	return schemaJSON, schemaErr
}

// RulesSchema returns the JSON Schema for an external rule table.
func RulesSchema() ([]byte, error) {
	rulesOnce.Do(func() {
		rulesJSON, rulesErr = reflectSchema(&RuleTable{})
		if rulesErr != nil {
			return
		}
		rulesCompiled, rulesErr = validator.CompileString("rules.schema.json", string(rulesJSON))
	})
	return rulesJSON, rulesErr
}

func compiledRulesSchema() (*validator.Schema, error) {
	if _, err := RulesSchema(); err != nil {
		return nil, err
	}
	return rulesCompiled, nil
}

func reflectSchema(v any) ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag: "yaml",
		Mapper:       mapType,
		Namer:        defName,
	}
	return json.MarshalIndent(r.Reflect(v), "", "  ")
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	configPkg    = reflect.TypeOf(Config{}).PkgPath()
)

// defName qualifies $defs keys of types from other packages so that
// loop.Config and storage.Config do not collapse into this package's Config.
func defName(t reflect.Type) string {
	if t.PkgPath() == "" || t.PkgPath() == configPkg || t.Name() == "" {
		return ""
	}
	pkg := path.Base(t.PkgPath())
	return strings.ToUpper(pkg[:1]) + pkg[1:] + t.Name()
}

// mapType describes durations the way they are written in config files.
func mapType(t reflect.Type) *jsonschema.Schema {
	if t != durationType {
		return nil
	}
	// Field tags overwrite the top-level description, so it sits on the
	// string form.
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{
				Type:        "string",
				Description: "duration such as 30s or 5m",
				Pattern:     `^(\d+(\.\d+)?(ns|us|µs|ms|s|m|h))+$`,
			},
			{Type: "integer", Description: "nanoseconds", Minimum: json.Number("0")},
		},
	}
}
