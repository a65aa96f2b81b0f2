package validation

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"wadispatch/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestValidatePhoneNumber(t *testing.T) {
	tests := []struct {
		name    string
		phone   string
		wantErr bool
	}{
		{"valid with plus", "+919876543210", false},
		{"valid without plus", "919876543210", false},
		{"minimum length", "1234567", false},
		{"empty", "", true},
		{"too short", "123456", true},
		{"too long", strings.Repeat("9", 21), true},
		{"letters", "98765abc43", true},
		{"spaces", "9876 543210", true},
		{"plus only stripped once", "++919876543210", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePhoneNumber(tt.phone)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMessageID(t *testing.T) {
	assert.NoError(t, ValidateMessageID("wamid.HBgMOTE5ODc2NTQzMjEw"))
	assert.Error(t, ValidateMessageID(""))
	assert.Error(t, ValidateMessageID(strings.Repeat("a", 256)))
	assert.Error(t, ValidateMessageID("wamid\nabc"))
	assert.Error(t, ValidateMessageID("wamid\x00abc"))
}

func TestValidateRecipientFilter(t *testing.T) {
	assert.NoError(t, ValidateRecipientFilter(models.RecipientFilter{Type: models.FilterTypeAll}))

	assert.NoError(t, ValidateRecipientFilter(models.RecipientFilter{
		Type: models.FilterTypeTags,
		Tags: []string{"vip", "delhi"},
	}))
	assert.Error(t, ValidateRecipientFilter(models.RecipientFilter{Type: models.FilterTypeTags}))
	assert.Error(t, ValidateRecipientFilter(models.RecipientFilter{
		Type: models.FilterTypeTags,
		Tags: []string{"vip", "  "},
	}))

	assert.NoError(t, ValidateRecipientFilter(models.RecipientFilter{
		Type:      models.FilterTypeSegment,
		SegmentID: "seg_42",
	}))
	assert.Error(t, ValidateRecipientFilter(models.RecipientFilter{Type: models.FilterTypeSegment}))

	assert.Error(t, ValidateRecipientFilter(models.RecipientFilter{Type: "geo"}))
}

func TestValidateHTTPRequestSize(t *testing.T) {
	r := httptest.NewRequest("POST", "/webhooks/billing", bytes.NewReader(make([]byte, 100)))
	assert.NoError(t, ValidateHTTPRequestSize(r, 100))
	assert.Error(t, ValidateHTTPRequestSize(r, 99))

	r.ContentLength = -1
	assert.Error(t, ValidateHTTPRequestSize(r, 100))
}
