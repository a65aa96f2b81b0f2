package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wadispatch/internal/models"
)

func (d *Database) SaveMessage(ctx context.Context, m *models.Message) error {
	query := `
		INSERT INTO messages (
			org_id, campaign_id, whatsapp_message_id, direction, type,
			recipient_phone, content, status, category, cost, error_code, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	phone, err := d.encryptor.EncryptIfEnabled(m.RecipientPhone)
	if err != nil {
		return fmt.Errorf("failed to encrypt recipient phone: %w", err)
	}

	var wamid interface{}
	if m.WhatsAppMessageID != "" {
		wamid = m.WhatsAppMessageID
	}

	res, err := d.db.ExecContext(ctx, query,
		m.OrgID, m.CampaignID, wamid, string(m.Direction), m.Type,
		phone, m.Content, string(m.Status), m.Category, m.Cost, m.ErrorCode, m.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get message id: %w", err)
	}
	m.ID = id
	return nil
}

func (d *Database) GetMessageByWhatsAppID(ctx context.Context, whatsappMessageID string) (*models.Message, error) {
	query := `
		SELECT id, org_id, campaign_id, whatsapp_message_id, direction, type,
		       recipient_phone, content, status, category, cost,
		       error_code, error_message, delivered_at, read_at, created_at, updated_at
		FROM messages
		WHERE whatsapp_message_id = ?
	`

	m := &models.Message{}
	var direction, status, phone string
	var content, errorCode, errorMessage sql.NullString
	err := d.db.QueryRowContext(ctx, query, whatsappMessageID).Scan(
		&m.ID, &m.OrgID, &m.CampaignID, &m.WhatsAppMessageID, &direction, &m.Type,
		&phone, &content, &status, &m.Category, &m.Cost,
		&errorCode, &errorMessage, &m.DeliveredAt, &m.ReadAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	m.RecipientPhone, err = d.encryptor.DecryptIfEnabled(phone)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt recipient phone: %w", err)
	}
	m.Direction = models.MessageDirection(direction)
	m.Status = models.MessageStatus(status)
	m.Content = content.String
	m.ErrorCode = errorCode.String
	m.ErrorMessage = errorMessage.String
	return m, nil
}

// AdvanceMessageStatus moves a message to the new status only if it is still
// in the status the caller observed. Returns false when the row moved under
// us, so the reconciler can re-read and re-evaluate instead of clobbering a
// concurrent update.
func (d *Database) AdvanceMessageStatus(ctx context.Context, whatsappMessageID string, from, to models.MessageStatus, at time.Time) (bool, error) {
	query := `
		UPDATE messages
		SET status = ?,
		    delivered_at = CASE WHEN ? = 'delivered' THEN ? ELSE delivered_at END,
		    read_at = CASE WHEN ? = 'read' THEN ? ELSE read_at END
		WHERE whatsapp_message_id = ? AND status = ?
	`

	var affected int64
	err := retryableDBOperation(ctx, func() error {
		res, execErr := d.db.ExecContext(ctx, query,
			string(to), string(to), at.UTC(), string(to), at.UTC(),
			whatsappMessageID, string(from),
		)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	}, "advance message status")
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkMessageFailed terminates a message with the provider's error details,
// guarded by the observed status like AdvanceMessageStatus.
func (d *Database) MarkMessageFailed(ctx context.Context, whatsappMessageID string, from models.MessageStatus, errorCode, errorMessage string) (bool, error) {
	query := `
		UPDATE messages
		SET status = ?, error_code = ?, error_message = ?
		WHERE whatsapp_message_id = ? AND status = ?
	`

	var affected int64
	err := retryableDBOperation(ctx, func() error {
		res, execErr := d.db.ExecContext(ctx, query,
			string(models.MessageStatusFailed), errorCode, errorMessage,
			whatsappMessageID, string(from),
		)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	}, "mark message failed")
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetStaleMessageCount counts outbound messages stuck in sent status past the
// threshold, surfaced as a gauge by the delivery monitor.
func (d *Database) GetStaleMessageCount(ctx context.Context, threshold time.Duration) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages
		WHERE direction = ? AND status = ? AND created_at < ?
	`
	cutoff := time.Now().UTC().Add(-threshold)

	var count int
	err := d.db.QueryRowContext(ctx, query,
		string(models.DirectionOutbound), string(models.MessageStatusSent), cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale messages: %w", err)
	}
	return count, nil
}
