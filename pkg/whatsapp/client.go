package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"wadispatch/pkg/whatsapp/types"
)

type WhatsAppClient struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	client        *http.Client
}

func NewClient(cfg types.ClientConfig) types.Client {
	return &WhatsAppClient{
		baseURL:       cfg.BaseURL,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		client:        &http.Client{Timeout: cfg.Timeout},
	}
}

// SendTemplateMessage sends one pre-approved template message and returns the
// provider-assigned message id. Provider rejections come back as
// *types.APIError so callers can record the provider's error code.
func (c *WhatsAppClient) SendTemplateMessage(ctx context.Context, to, templateName, language string, bodyParams []string) (string, error) {
	payload := types.TemplateMessageRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: types.TemplateBlock{
			Name:     templateName,
			Language: types.Language{Code: language},
		},
	}

	if len(bodyParams) > 0 {
		params := make([]types.Parameter, 0, len(bodyParams))
		for _, p := range bodyParams {
			params = append(params, types.Parameter{Type: "text", Text: p})
		}
		payload.Template.Components = []types.Component{{Type: "body", Parameters: params}}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var result types.SendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if result.Error != nil {
			return "", result.Error
		}
		return "", fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if len(result.Messages) == 0 || result.Messages[0].ID == "" {
		return "", fmt.Errorf("provider response contained no message id")
	}

	return result.Messages[0].ID, nil
}
