package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// GenerateRequestMessage asks a worker to regenerate recommendations from
// the current spending snapshot. A nil MinConfidence means the worker's
// configured default.
type GenerateRequestMessage struct {
	MinConfidence *float64  `json:"min_confidence,omitempty"`
	Reason        string    `json:"reason"`
	SpendingID    string    `json:"spending_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Reasons attached to generate requests.
const (
	ReasonSpendingCreated = "spending_created"
	ReasonSpendingUpdated = "spending_updated"
	ReasonSpendingDeleted = "spending_deleted"
	ReasonManual          = "manual"
	ReasonScheduled       = "scheduled"
)

var ErrInvalidMessage = errors.New("invalid generate request")

// NewGenerateRequestMessage creates a request stamped with the current time.
func NewGenerateRequestMessage(reason, spendingID string, minConfidence *float64) *GenerateRequestMessage {
	return &GenerateRequestMessage{
		MinConfidence: minConfidence,
		Reason:        reason,
		SpendingID:    spendingID,
		Timestamp:     time.Now(),
	}
}

// Validate rejects requests no worker could act on.
func (m *GenerateRequestMessage) Validate() error {
	if m.Reason == "" {
		return fmt.Errorf("%w: missing reason", ErrInvalidMessage)
	}
	if m.MinConfidence != nil && (math.IsNaN(*m.MinConfidence) || *m.MinConfidence < 0 || *m.MinConfidence > 1) {
		return fmt.Errorf("%w: min_confidence %v outside [0,1]", ErrInvalidMessage, *m.MinConfidence)
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m *GenerateRequestMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// GenerateRequestMessageFromJSON decodes and validates a message body.
func GenerateRequestMessageFromJSON(data []byte) (*GenerateRequestMessage, error) {
	var msg GenerateRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
