package validation

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/models"
)

// ValidatePhoneNumber validates phone number format and length
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.New(errors.ErrCodeInvalidInput, "phone number cannot be empty")
	}

	cleaned := strings.TrimPrefix(phone, "+")

	if len(cleaned) < constants.MinPhoneNumberLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}
	if len(cleaned) > constants.MaxPhoneNumberLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number too long (max %d digits)", constants.MaxPhoneNumberLength))
	}

	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeInvalidInput, "phone number must contain only digits")
		}
	}

	return nil
}

// ValidateMessageID validates an external message id before it is used as a
// reconciliation join key.
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	for _, char := range messageID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, "message ID contains invalid characters")
		}
	}

	return nil
}

// ValidateRecipientFilter checks a campaign's declarative filter.
func ValidateRecipientFilter(filter models.RecipientFilter) error {
	switch filter.Type {
	case models.FilterTypeAll:
		return nil
	case models.FilterTypeTags:
		if len(filter.Tags) == 0 {
			return errors.New(errors.ErrCodeValidationFailed, "tags filter requires at least one tag")
		}
		for _, tag := range filter.Tags {
			if strings.TrimSpace(tag) == "" {
				return errors.New(errors.ErrCodeValidationFailed, "tags filter contains an empty tag")
			}
		}
		return nil
	case models.FilterTypeSegment:
		if filter.SegmentID == "" {
			return errors.New(errors.ErrCodeValidationFailed, "segment filter requires a segment id")
		}
		return nil
	default:
		return errors.New(errors.ErrCodeValidationFailed,
			fmt.Sprintf("unknown recipient filter type: %q", filter.Type))
	}
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}

	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}
