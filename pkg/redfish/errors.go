// Package redfish holds helpers for Redfish and OME JSON documents: the vendor
// error envelope, @odata key stripping, link traversal and resource discovery.
package redfish

import (
	"bytes"
	"encoding/json"
	"strings"
)

// MessageInfo is one entry of @Message.ExtendedInfo.
type MessageInfo struct {
	MessageID  string   `json:"MessageId"`
	Message    string   `json:"Message"`
	Resolution string   `json:"Resolution,omitempty"`
	Severity   string   `json:"Severity,omitempty"`
	MessageArg []string `json:"MessageArgs,omitempty"`
}

// ProviderError is a structured vendor error extracted from an HTTP error body.
type ProviderError struct {
	StatusCode int

	// MessageID and Message are taken from the first ExtendedInfo entry.
	MessageID string
	Message   string

	ExtendedInfo []MessageInfo

	// Body is the decoded envelope, kept for error_info reporting.
	Body map[string]any
}

// Error implements the error interface. It is the vendor message verbatim.
func (e *ProviderError) Error() string {
	return e.Message
}

// HasMessageID reports whether any ExtendedInfo entry's MessageId contains id.
// Redfish message ids are registry-qualified (IDRAC.2.8.SYS099), so the check
// is a substring match.
func (e *ProviderError) HasMessageID(id string) bool {
	if e == nil || id == "" {
		return false
	}
	if strings.Contains(e.MessageID, id) {
		return true
	}
	for _, info := range e.ExtendedInfo {
		if strings.Contains(info.MessageID, id) {
			return true
		}
	}
	return false
}

type envelope struct {
	Error struct {
		Code         string        `json:"code"`
		Message      string        `json:"message"`
		ExtendedInfo []MessageInfo `json:"@Message.ExtendedInfo"`
	} `json:"error"`
}

// ParseErrorBody extracts the vendor error from an HTTP error body.
//
// It returns false when the body is empty, is not JSON, or carries no message.
// It never panics on malformed input.
func ParseErrorBody(status int, body []byte) (*ProviderError, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false
	}
	var generic map[string]any
	_ = json.Unmarshal(body, &generic)

	pe := &ProviderError{
		StatusCode:   status,
		ExtendedInfo: env.Error.ExtendedInfo,
		Body:         generic,
	}
	for _, info := range env.Error.ExtendedInfo {
		if strings.TrimSpace(info.Message) != "" {
			pe.MessageID = info.MessageID
			pe.Message = info.Message
			break
		}
	}
	if pe.Message == "" && strings.TrimSpace(env.Error.Message) != "" {
		pe.MessageID = env.Error.Code
		pe.Message = env.Error.Message
	}
	if pe.Message == "" {
		return nil, false
	}
	return pe, true
}
