package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// NotificationMessage is one pending email alert travelling through the queue
type NotificationMessage struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"userId"`
	Email        string    `json:"email"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"createdAt"`
	Attempt      int       `json:"attempt"`
}

// NewNotificationMessage creates a first-attempt message with a fresh ID
func NewNotificationMessage(subscriberID, email, body string, now time.Time) *NotificationMessage {
	return &NotificationMessage{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		Email:        email,
		Message:      body,
		CreatedAt:    now,
		Attempt:      1,
	}
}

// EncodeNotification encodes a NotificationMessage to JSON
func EncodeNotification(msg *NotificationMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeNotification decodes JSON to NotificationMessage.
// Messages without an attempt counter are treated as first attempts.
func DecodeNotification(data []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Email == "" {
		return nil, errors.New("notification has no destination address")
	}
	if msg.Attempt < 1 {
		msg.Attempt = 1
	}
	return &msg, nil
}
