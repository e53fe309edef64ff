package http

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const (
	addressPattern = `^0x[0-9a-fA-F]{40}$`
	amountPattern  = `^[0-9]{1,78}$`
	hexPattern     = `^0x([0-9a-fA-F]{2})*$`
	wordPattern    = `^0x[0-9a-fA-F]{64}$`
)

var forwardRequestSchema = mustSchema(`{
	"type": "object",
	"required": ["from", "to", "gas", "deadline", "signature"],
	"properties": {
		"from": {"type": "string", "pattern": "` + addressPattern + `"},
		"to": {"type": "string", "pattern": "` + addressPattern + `"},
		"value": {"type": "string", "pattern": "` + amountPattern + `"},
		"gas": {"type": "string", "pattern": "` + amountPattern + `"},
		"deadline": {"type": "integer", "minimum": 0, "maximum": 281474976710655},
		"data": {"type": "string", "pattern": "` + hexPattern + `"},
		"signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]{130}$"}
	},
	"additionalProperties": false
}`)

var permitSchema = mustSchema(`{
	"type": "object",
	"required": ["owner", "spender", "value", "deadline", "v", "r", "s"],
	"properties": {
		"owner": {"type": "string", "pattern": "` + addressPattern + `"},
		"spender": {"type": "string", "pattern": "` + addressPattern + `"},
		"value": {"type": "string", "pattern": "` + amountPattern + `"},
		"deadline": {"type": "integer", "minimum": 0},
		"v": {"type": "integer", "minimum": 0, "maximum": 255},
		"r": {"type": "string", "pattern": "` + wordPattern + `"},
		"s": {"type": "string", "pattern": "` + wordPattern + `"}
	},
	"additionalProperties": false
}`)

var signatureSchema = mustSchema(`{
	"type": "object",
	"required": ["signer", "hash", "signature"],
	"properties": {
		"signer": {"type": "string", "pattern": "` + addressPattern + `"},
		"hash": {"type": "string", "pattern": "` + wordPattern + `"},
		"signature": {"type": "string", "pattern": "` + hexPattern + `"}
	},
	"additionalProperties": false
}`)

func mustSchema(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return s
}

// validate checks body against schema and returns the first violations as one message
func validate(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var msg string
	for i, desc := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description())
	}
	return fmt.Errorf("invalid request: %s", msg)
}
