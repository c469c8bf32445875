package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidPayload is returned when a payload does not match its schema.
var ErrInvalidPayload = errors.New("invalid payload")

const counterSchema = `{"type": "integer", "minimum": 0}`

var aggregatesSchema = `{
	"type": "object",
	"required": ["attrs", "aggregates"],
	"additionalProperties": false,
	"properties": {
		"attrs": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"release": {"type": "string"},
				"environment": {"type": "string"}
			}
		},
		"aggregates": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["started"],
				"additionalProperties": false,
				"properties": {
					"started": {"type": "string", "format": "date-time"},
					"exited": ` + counterSchema + `,
					"errored": ` + counterSchema + `,
					"crashed": ` + counterSchema + `,
					"abnormal": ` + counterSchema + `
				}
			}
		}
	}
}`

var sessionSchema = `{
	"type": "object",
	"required": ["sid", "init", "started", "timestamp", "status", "errors"],
	"additionalProperties": false,
	"properties": {
		"sid": {"type": "string", "minLength": 32, "maxLength": 32},
		"init": {"type": "boolean"},
		"started": {"type": "string", "format": "date-time"},
		"timestamp": {"type": "string", "format": "date-time"},
		"status": {"enum": ["ok", "exited", "crashed", "abnormal"]},
		"session_mode": {"enum": ["application", "request"]},
		"errors": ` + counterSchema + `,
		"did": {"type": "string"},
		"duration": {"type": "number", "minimum": 0},
		"abnormal_mechanism": {"type": "string"},
		"attrs": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"release": {"type": "string"},
				"environment": {"type": "string"},
				"ip_address": {"type": "string"},
				"user_agent": {"type": "string"}
			}
		}
	}
}`

var (
	schemaOnce      sync.Once
	schemaErr       error
	compiledAggs    *gojsonschema.Schema
	compiledSession *gojsonschema.Schema
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		compiledAggs, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(aggregatesSchema))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile aggregates schema: %w", schemaErr)
			return
		}
		compiledSession, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(sessionSchema))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile session schema: %w", schemaErr)
		}
	})
	return schemaErr
}

// ValidateAggregates checks p against the aggregates wire schema.
func ValidateAggregates(p Aggregates) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregates: %w", err)
	}
	return ValidateAggregatesJSON(data)
}

// ValidateAggregatesJSON checks raw JSON against the aggregates wire schema.
func ValidateAggregatesJSON(data []byte) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	return validate(compiledAggs, data)
}

// ValidateSession checks r against the session wire schema.
func ValidateSession(r SessionRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return ValidateSessionJSON(data)
}

// ValidateSessionJSON checks raw JSON against the session wire schema.
func ValidateSessionJSON(data []byte) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	return validate(compiledSession, data)
}

func validate(schema *gojsonschema.Schema, data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
	}

	return nil
}
