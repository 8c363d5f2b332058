package sagasync

import (
	"errors"
	"testing"
)

func TestValidateWebhookPayloadAcceptsObjects(t *testing.T) {
	valid := [][]byte{
		[]byte(`{}`),
		[]byte(`{"asin":"B001","status":"Finished"}`),
		[]byte(`{"data":{"anything":["goes"]}}`),
		[]byte(`{"unrecognized":42}`),
	}
	for _, payload := range valid {
		if err := ValidateWebhookPayload(payload); err != nil {
			t.Errorf("payload %s rejected: %v", payload, err)
		}
	}
}

func TestValidateWebhookPayloadRejectsBadShapes(t *testing.T) {
	invalid := [][]byte{
		[]byte(`not json`),
		[]byte(`[1,2,3]`),
		[]byte(`{"asin":123}`),
		[]byte(`{"status":{"nested":"object"}}`),
	}
	for _, payload := range invalid {
		err := ValidateWebhookPayload(payload)
		if err == nil {
			t.Errorf("payload %s accepted", payload)
			continue
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("payload %s error = %v, want ErrInvalidInput", payload, err)
		}
	}
}
