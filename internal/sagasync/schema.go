package sagasync

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Webhook envelopes vary per sender, so the schema only pins down the shape
// of the fields this service reads when they are present.
const webhookEnvelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"asin": {"type": "string"},
		"status": {"type": "string"},
		"body": {"type": "string"},
		"data": {"type": "object"},
		"properties": {"type": "object"}
	}
}`

var (
	webhookSchemaOnce sync.Once
	webhookSchema     *jsonschema.Schema
	webhookSchemaErr  error
)

func compiledWebhookSchema() (*jsonschema.Schema, error) {
	webhookSchemaOnce.Do(func() {
		document, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookEnvelopeSchema))
		if err != nil {
			webhookSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("webhook.json", document); err != nil {
			webhookSchemaErr = err
			return
		}
		webhookSchema, webhookSchemaErr = compiler.Compile("webhook.json")
	})
	return webhookSchema, webhookSchemaErr
}

// ValidateWebhookPayload checks that a webhook body is a JSON object whose
// recognized fields carry the expected types.
func ValidateWebhookPayload(payload []byte) error {
	schema, err := compiledWebhookSchema()
	if err != nil {
		return err
	}
	document, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: malformed webhook payload: %v", ErrInvalidInput, err)
	}
	if err := schema.Validate(document); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
