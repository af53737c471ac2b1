package protocol

import (
	"testing"
	"time"
)

func TestNotificationRoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	msg := NewNotificationMessage("u1", "a@example.com", "The current temperature is 26.85°C", now)

	if msg.ID == "" {
		t.Fatal("Expected message ID to be set")
	}
	if msg.Attempt != 1 {
		t.Errorf("Expected attempt 1, got %d", msg.Attempt)
	}

	data, err := EncodeNotification(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeNotification(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if *decoded != *msg {
		t.Errorf("Decoded message differs: %+v vs %+v", decoded, msg)
	}
}

func TestDecodeNotification_LegacyPayload(t *testing.T) {
	// Shape written by producers that predate IDs and attempt counters.
	decoded, err := DecodeNotification([]byte(`{"userId":"u1","email":"a@example.com","message":"hot"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Attempt != 1 {
		t.Errorf("Expected attempt to default to 1, got %d", decoded.Attempt)
	}
}

func TestDecodeNotification_Invalid(t *testing.T) {
	if _, err := DecodeNotification([]byte(`not json`)); err == nil {
		t.Error("Expected error for malformed JSON")
	}
	if _, err := DecodeNotification([]byte(`{"userId":"u1","message":"x"}`)); err == nil {
		t.Error("Expected error for missing email")
	}
}
