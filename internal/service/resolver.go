package service

import (
	"context"
	"fmt"

	"wadispatch/internal/errors"
	"wadispatch/internal/models"
	"wadispatch/internal/validation"

	"github.com/sirupsen/logrus"
)

// ContactStore is the contact lookup the resolver needs.
type ContactStore interface {
	ResolveRecipients(ctx context.Context, orgID string, filter models.RecipientFilter) ([]models.Recipient, error)
}

// RecipientResolver produces the bounded, deduplicated set of eligible
// recipients for a campaign.
type RecipientResolver struct {
	store         ContactStore
	maxRecipients int
	logger        *logrus.Logger
}

func NewRecipientResolver(store ContactStore, maxRecipients int, logger *logrus.Logger) *RecipientResolver {
	return &RecipientResolver{
		store:         store,
		maxRecipients: maxRecipients,
		logger:        logger,
	}
}

// Resolve returns the ordered recipient list for the filter. Opted-out
// contacts are excluded by the store; duplicates by phone collapse to the
// first occurrence; the result is capped at the safety ceiling. An empty
// result is a validation error so campaigns never proceed silently with
// nothing to send.
func (r *RecipientResolver) Resolve(ctx context.Context, orgID string, filter models.RecipientFilter) ([]models.Recipient, error) {
	if err := validation.ValidateRecipientFilter(filter); err != nil {
		return nil, err
	}

	all, err := r.store.ResolveRecipients(ctx, orgID, filter)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to resolve recipients")
	}

	seen := make(map[string]bool, len(all))
	recipients := make([]models.Recipient, 0, len(all))
	for _, rec := range all {
		if validation.ValidatePhoneNumber(rec.Phone) != nil {
			r.logger.WithField("contact_id", rec.ContactID).Warn("Skipping contact with invalid phone number")
			continue
		}
		if seen[rec.Phone] {
			continue
		}
		seen[rec.Phone] = true
		recipients = append(recipients, rec)

		if len(recipients) >= r.maxRecipients {
			r.logger.WithFields(logrus.Fields{
				"org_id": orgID,
				"cap":    r.maxRecipients,
			}).Warn("Recipient set truncated at safety ceiling")
			break
		}
	}

	if len(recipients) == 0 {
		return nil, errors.New(errors.ErrCodeNoRecipients,
			fmt.Sprintf("no eligible recipients matched filter type %q", filter.Type)).
			WithUserMessage("No recipients matched the selected audience. Check the filter and opt-out status of your contacts.")
	}

	return recipients, nil
}
