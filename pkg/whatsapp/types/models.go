package types

import "time"

// ClientConfig configures the Cloud API client.
type ClientConfig struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

// TemplateMessageRequest is the wire shape of a template send.
type TemplateMessageRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Template         TemplateBlock `json:"template"`
}

type TemplateBlock struct {
	Name       string      `json:"name"`
	Language   Language    `json:"language"`
	Components []Component `json:"components,omitempty"`
}

type Language struct {
	Code string `json:"code"`
}

type Component struct {
	Type       string      `json:"type"`
	Parameters []Parameter `json:"parameters,omitempty"`
}

type Parameter struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// SendMessageResponse is the provider's response to a send request.
type SendMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *APIError `json:"error,omitempty"`
}

// APIError is the provider's error envelope.
type APIError struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"error_data,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}
