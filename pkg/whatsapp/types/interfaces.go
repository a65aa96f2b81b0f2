package types

import "context"

// Client sends template messages through the provider's API.
type Client interface {
	SendTemplateMessage(ctx context.Context, to, templateName, language string, bodyParams []string) (string, error)
}
