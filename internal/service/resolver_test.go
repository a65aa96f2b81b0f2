package service

import (
	"context"
	"testing"

	"wadispatch/internal/errors"
	"wadispatch/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContactStore struct {
	recipients []models.Recipient
	err        error
}

func (f *fakeContactStore) ResolveRecipients(ctx context.Context, orgID string, filter models.RecipientFilter) ([]models.Recipient, error) {
	return f.recipients, f.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestResolver_DeduplicatesByPhone(t *testing.T) {
	store := &fakeContactStore{recipients: []models.Recipient{
		{ContactID: "a", Phone: "919876543210", Name: "A"},
		{ContactID: "b", Phone: "919876543210", Name: "B"},
		{ContactID: "c", Phone: "919876543211", Name: "C"},
	}}
	r := NewRecipientResolver(store, 100, testLogger())

	got, err := r.Resolve(context.Background(), "org1", models.RecipientFilter{Type: models.FilterTypeAll})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ContactID)
	assert.Equal(t, "c", got[1].ContactID)
}

func TestResolver_SkipsInvalidPhones(t *testing.T) {
	store := &fakeContactStore{recipients: []models.Recipient{
		{ContactID: "a", Phone: "not-a-number"},
		{ContactID: "b", Phone: "919876543210"},
	}}
	r := NewRecipientResolver(store, 100, testLogger())

	got, err := r.Resolve(context.Background(), "org1", models.RecipientFilter{Type: models.FilterTypeAll})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ContactID)
}

func TestResolver_CapsAtCeiling(t *testing.T) {
	var recipients []models.Recipient
	for i := 0; i < 10; i++ {
		recipients = append(recipients, models.Recipient{
			ContactID: string(rune('a' + i)),
			Phone:     "91987654320" + string(rune('0'+i)),
		})
	}
	store := &fakeContactStore{recipients: recipients}
	r := NewRecipientResolver(store, 3, testLogger())

	got, err := r.Resolve(context.Background(), "org1", models.RecipientFilter{Type: models.FilterTypeAll})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestResolver_EmptyResultIsError(t *testing.T) {
	r := NewRecipientResolver(&fakeContactStore{}, 100, testLogger())

	_, err := r.Resolve(context.Background(), "org1", models.RecipientFilter{Type: models.FilterTypeAll})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoRecipients, errors.GetCode(err))
}

func TestResolver_RejectsInvalidFilter(t *testing.T) {
	r := NewRecipientResolver(&fakeContactStore{}, 100, testLogger())

	_, err := r.Resolve(context.Background(), "org1", models.RecipientFilter{Type: "everyone"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = r.Resolve(context.Background(), "org1", models.RecipientFilter{Type: models.FilterTypeTags})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}
