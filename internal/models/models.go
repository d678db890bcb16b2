// Package models defines the core data structures for CarSherpa.
//
// It includes the conversation record, flow and step identifiers, inventory and booking
// records, collaborator contracts, and the JSON envelope used by the HTTP API.
package models

import (
	"errors"
	"time"
)

// Validation constants for inbound messages
const (
	// MaxMessageLength defines the maximum accepted inbound message length
	MaxMessageLength = 4096
	// MaxHistory is the number of exchanges kept on a conversation record
	MaxHistory = 5
)

// Error variables for better error handling and testability
var (
	ErrEmptySender  = errors.New("sender cannot be empty")
	ErrEmptyBody    = errors.New("message body cannot be empty")
	ErrBodyTooLong  = errors.New("message body exceeds maximum length")
	ErrUnknownFlow  = errors.New("unknown flow")
	ErrNotFound     = errors.New("record not found")
	ErrBookingStore = errors.New("booking could not be stored")
)

// InboundMessage is a text message received from an end user through any transport.
type InboundMessage struct {
	From      string    `json:"from"`
	Body      string    `json:"body"`
	MessageID string    `json:"message_id,omitempty"`
	Time      time.Time `json:"time"`
}

// Validate checks the inbound message has a sender and a usable body.
func (m InboundMessage) Validate() error {
	if m.From == "" {
		return ErrEmptySender
	}
	if m.Body == "" {
		return ErrEmptyBody
	}
	if len(m.Body) > MaxMessageLength {
		return ErrBodyTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
