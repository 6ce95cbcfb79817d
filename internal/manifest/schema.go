package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaJSON is the draft-07 schema for the arweave/paths manifest format.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "arweave/paths manifest",
  "type": "object",
  "required": ["manifest", "version", "paths"],
  "properties": {
    "manifest": {"const": "arweave/paths"},
    "version": {"type": "string", "minLength": 1},
    "index": {
      "type": "object",
      "required": ["path"],
      "properties": {"path": {"type": "string", "minLength": 1}}
    },
    "fallback": {
      "type": "object",
      "required": ["id"],
      "properties": {"id": {"type": "string", "pattern": "^[A-Za-z0-9_-]{43}$"}}
    },
    "paths": {
      "type": "object",
      "additionalProperties": {
        "oneOf": [
          {"type": "string", "pattern": "^[A-Za-z0-9_-]{43}$"},
          {
            "type": "object",
            "required": ["id"],
            "properties": {"id": {"type": "string", "pattern": "^[A-Za-z0-9_-]{43}$"}}
          }
        ]
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("manifest.schema.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("manifest: add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("manifest.schema.json")
	})
	return compiledSchema, schemaErr
}

// ValidateSchema checks manifest bytes against the wire-format schema.
func ValidateSchema(data []byte) error {
	sch, err := compiled()
	if err != nil {
		return err
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if err := sch.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}
