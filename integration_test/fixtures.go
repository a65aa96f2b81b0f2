package integration

import (
	"context"
	"fmt"

	"wadispatch/internal/models"

	"github.com/stretchr/testify/require"
)

const testOrgID = "org-itest"

func (e *TestEnvironment) SeedOrganization(balance float64) {
	e.t.Helper()
	require.NoError(e.t, e.DB.CreateOrganization(context.Background(), &models.Organization{
		ID:            testOrgID,
		Name:          "Integration Test Co",
		WalletBalance: balance,
	}))
}

// SeedContacts creates n contacts with distinct, valid phone numbers.
func (e *TestEnvironment) SeedContacts(n int) []string {
	e.t.Helper()
	phones := make([]string, 0, n)
	for i := 0; i < n; i++ {
		phone := fmt.Sprintf("9198765%05d", i)
		require.NoError(e.t, e.DB.SaveContact(context.Background(), &models.Contact{
			ID:    fmt.Sprintf("contact-%d", i),
			OrgID: testOrgID,
			Phone: phone,
			Name:  fmt.Sprintf("Contact %d", i),
		}))
		phones = append(phones, phone)
	}
	return phones
}

func (e *TestEnvironment) SeedTemplate(id, category, body string) {
	e.t.Helper()
	require.NoError(e.t, e.DB.SaveTemplate(context.Background(), &models.Template{
		ID:       id,
		OrgID:    testOrgID,
		Name:     id,
		Category: category,
		Language: "en",
		Body:     body,
		Status:   models.TemplateStatusApproved,
	}))
}

func (e *TestEnvironment) SeedCampaign(templateID string, variables map[string]string) int64 {
	e.t.Helper()
	c := &models.Campaign{
		OrgID:      testOrgID,
		Name:       "itest campaign",
		TemplateID: templateID,
		Filter:     models.RecipientFilter{Type: models.FilterTypeAll},
		Variables:  variables,
		Status:     models.CampaignStatusDraft,
	}
	require.NoError(e.t, e.DB.CreateCampaign(context.Background(), c))
	return c.ID
}

func (e *TestEnvironment) SeedTransaction(orderID string, txType models.TransactionType, amount float64, periodDays int) *models.Transaction {
	e.t.Helper()
	txn := &models.Transaction{
		OrgID:      testOrgID,
		OrderID:    orderID,
		Type:       txType,
		Amount:     amount,
		Currency:   "INR",
		Status:     models.TransactionStatusPending,
		PlanID:     "pro",
		PeriodDays: periodDays,
	}
	require.NoError(e.t, e.DB.CreateTransaction(context.Background(), txn))
	return txn
}
