package contact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Fixed messages returned to the caller. Provider details never reach them.
const (
	MsgMethodNotAllowed = "Method not allowed"
	MsgNotConfigured    = "Server email settings are not configured"
	MsgInvalidJSON      = "Invalid JSON payload"
	MsgMissingFields    = "Name, email, and message are required"
	MsgTooLarge         = "Message is too large"
	MsgDeliveryFailed   = "Message failed to send. Please try again or email me directly."
	MsgAutoReplyFailed  = "Message sent. If you do not receive a confirmation email yet, your message was still delivered."
	MsgSent             = "Message sent. I will get back to you soon."
	MsgTooManyRequests  = "Too many requests. Please try again later."
	MsgInternalError    = "Something went wrong. Please try again later."
)

var (
	ErrInvalidJSON   = errors.New("invalid json payload")
	ErrMissingFields = errors.New("name, email, and message are required")
)

// Submission is a visitor's contact form entry. It lives for one request.
type Submission struct {
	Name    string
	Email   string
	Message string
}

// ParseSubmission decodes a JSON body. Each field is coerced to a string and
// trimmed; absent or null fields become empty. Any JSON value that is not an
// object has no fields.
func ParseSubmission(body []byte) (Submission, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if dec.More() {
		return Submission{}, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}

	raw, _ := decoded.(map[string]any)
	return Submission{
		Name:    coerce(raw["name"]),
		Email:   coerce(raw["email"]),
		Message: coerce(raw["message"]),
	}, nil
}

// Validate reports ErrMissingFields without saying which field was empty.
func (s Submission) Validate() error {
	if s.Name == "" || s.Email == "" || s.Message == "" {
		return ErrMissingFields
	}
	return nil
}

func coerce(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(encoded))
	}
}

// Response is the JSON body of every reply from the contact endpoint.
// AutoReplySent is only present when the confirmation email failed.
type Response struct {
	Success       bool   `json:"success"`
	AutoReplySent *bool  `json:"autoReplySent,omitempty"`
	Message       string `json:"message"`
}

func failure(message string) Response {
	return Response{Success: false, Message: message}
}

// Outcome is the result of a delivery attempt that passed validation.
type Outcome string

const (
	OutcomeDelivered       Outcome = "delivered"
	OutcomeAutoReplyFailed Outcome = "auto_reply_failed"
	OutcomeOwnerFailed     Outcome = "owner_failed"
)
