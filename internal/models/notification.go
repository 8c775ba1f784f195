package models

import (
	"fmt"
	"strings"
)

// NotificationOutcome is the closed set of results an engine can report.
type NotificationOutcome string

const (
	OutcomeSuccess NotificationOutcome = "success"
	OutcomeFailure NotificationOutcome = "failure"
)

// CompletionNotification is published by the OCR engine's notification relay
// when an extraction finishes. It may be delivered more than once.
type CompletionNotification struct {
	ExternalJobRef string              `json:"externalJobRef"`
	Outcome        NotificationOutcome `json:"outcome"`
	ErrorDetail    string              `json:"errorDetail,omitempty"`
}

// Validate normalizes the notification and rejects anything outside the known variants.
func (n *CompletionNotification) Validate() error {
	n.ExternalJobRef = strings.TrimSpace(n.ExternalJobRef)
	n.Outcome = NotificationOutcome(strings.ToLower(strings.TrimSpace(string(n.Outcome))))

	if n.ExternalJobRef == "" {
		return fmt.Errorf("%w: notification is missing externalJobRef", ErrInvalidRequest)
	}
	switch n.Outcome {
	case OutcomeSuccess:
		n.ErrorDetail = ""
	case OutcomeFailure:
		n.ErrorDetail = strings.TrimSpace(n.ErrorDetail)
	default:
		return fmt.Errorf("%w: unknown notification outcome %q", ErrInvalidRequest, n.Outcome)
	}
	return nil
}
