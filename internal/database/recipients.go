package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wadispatch/internal/models"
)

// InsertCampaignRecipients writes the resolved recipient set in one
// transaction so a partially created run is never observable.
func (d *Database) InsertCampaignRecipients(ctx context.Context, campaignID int64, recipients []models.Recipient) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO campaign_recipients (campaign_id, contact_id, phone, name, status)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare recipient insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recipients {
		phone, err := d.encryptor.EncryptIfEnabled(r.Phone)
		if err != nil {
			return fmt.Errorf("failed to encrypt recipient phone: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, campaignID, r.ContactID, phone, r.Name, string(models.RecipientStatusPending)); err != nil {
			return fmt.Errorf("failed to insert recipient %s: %w", r.ContactID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recipients: %w", err)
	}
	return nil
}

// ListPendingRecipients returns the ordered, still-unsent recipients of a
// campaign. Phones are decrypted for dispatch.
func (d *Database) ListPendingRecipients(ctx context.Context, campaignID int64) ([]*models.CampaignRecipient, error) {
	query := `
		SELECT id, campaign_id, contact_id, phone, name, status, created_at, updated_at
		FROM campaign_recipients
		WHERE campaign_id = ? AND status = ?
		ORDER BY id
	`
	rows, err := d.db.QueryContext(ctx, query, campaignID, string(models.RecipientStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending recipients: %w", err)
	}
	defer rows.Close()

	var out []*models.CampaignRecipient
	for rows.Next() {
		r := &models.CampaignRecipient{}
		var status, phone string
		var name sql.NullString
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.ContactID, &phone, &name, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		r.Phone, err = d.encryptor.DecryptIfEnabled(phone)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt recipient phone: %w", err)
		}
		r.Name = name.String
		r.Status = models.RecipientStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRecipientSent records a successful send attempt and the provider's
// message id used to correlate later delivery callbacks.
func (d *Database) MarkRecipientSent(ctx context.Context, recipientID int64, whatsappMessageID string, sentAt time.Time) error {
	query := `
		UPDATE campaign_recipients
		SET status = ?, whatsapp_message_id = ?, sent_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, string(models.RecipientStatusSent), whatsappMessageID, sentAt.UTC(), recipientID)
		return err
	}, "mark recipient sent")
}

// MarkRecipientFailed records a failed send attempt with the provider error.
func (d *Database) MarkRecipientFailed(ctx context.Context, recipientID int64, errorCode, errorMessage string) error {
	query := `
		UPDATE campaign_recipients
		SET status = ?, error_code = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, string(models.RecipientStatusFailed), errorCode, errorMessage, recipientID)
		return err
	}, "mark recipient failed")
}

// UpdateRecipientDeliveryStatus advances the per-recipient status when a
// delivery callback is reconciled.
func (d *Database) UpdateRecipientDeliveryStatus(ctx context.Context, whatsappMessageID string, status models.RecipientStatus) error {
	query := `
		UPDATE campaign_recipients
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE whatsapp_message_id = ?
	`
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, string(status), whatsappMessageID)
		return err
	}, "update recipient delivery status")
}

// CountRecipientOutcomes returns sent and failed totals recorded for a
// campaign, used by crash recovery to settle an interrupted run.
func (d *Database) CountRecipientOutcomes(ctx context.Context, campaignID int64) (sent, failed int, err error) {
	query := `
		SELECT
			COUNT(CASE WHEN status IN (?, ?, ?) THEN 1 END),
			COUNT(CASE WHEN status = ? THEN 1 END)
		FROM campaign_recipients
		WHERE campaign_id = ?
	`
	err = d.db.QueryRowContext(ctx, query,
		string(models.RecipientStatusSent), string(models.RecipientStatusDelivered), string(models.RecipientStatusRead),
		string(models.RecipientStatusFailed), campaignID,
	).Scan(&sent, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count recipient outcomes: %w", err)
	}
	return sent, failed, nil
}
