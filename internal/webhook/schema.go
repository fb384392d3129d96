package webhook

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://schemas.capitalize.ai/messaging/carrier-event.json"

// eventSchema constrains the fields the handlers read. Unknown event
// types only need an id-bearing payload.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {
      "type": "object",
      "required": ["event_type", "payload"],
      "properties": {
        "id": {"type": "string"},
        "event_type": {"type": "string", "minLength": 1},
        "payload": {"$ref": "#/$defs/payload"}
      },
      "if": {"properties": {"event_type": {"const": "message.received"}}},
      "then": {"properties": {"payload": {"$ref": "#/$defs/inbound"}}}
    }
  },
  "$defs": {
    "endpoint": {
      "type": "object",
      "required": ["phone_number"],
      "properties": {
        "phone_number": {"type": "string", "minLength": 1},
        "status": {"type": "string"}
      }
    },
    "payload": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "from": {"$ref": "#/$defs/endpoint"},
        "to": {"type": "array", "items": {"$ref": "#/$defs/endpoint"}},
        "cc": {
          "type": "array",
          "items": {"anyOf": [{"type": "string"}, {"$ref": "#/$defs/endpoint"}]}
        },
        "text": {"type": ["string", "null"]},
        "media": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "required": ["url"],
            "properties": {
              "url": {"type": "string", "minLength": 1},
              "content_type": {"type": ["string", "null"]},
              "size": {"type": ["integer", "null"], "minimum": 0}
            }
          }
        },
        "errors": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "properties": {
              "title": {"type": ["string", "null"]},
              "detail": {"type": ["string", "null"]}
            }
          }
        }
      }
    },
    "inbound": {
      "required": ["from", "to"],
      "properties": {"to": {"minItems": 1}}
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(eventSchema))
		if err != nil {
			schemaErr = fmt.Errorf("failed to parse event schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("failed to add event schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

func validate(body []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
