package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"wadispatch/internal/models"
)

// SaveContact inserts or replaces a contact. Phone numbers are encrypted at
// rest when encryption is enabled; the deterministic hash supports lookups.
func (d *Database) SaveContact(ctx context.Context, c *models.Contact) error {
	phone, err := d.encryptor.EncryptIfEnabled(c.Phone)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}
	customFields := c.CustomFields
	if customFields == nil {
		customFields = map[string]string{}
	}
	fieldsJSON, err := json.Marshal(customFields)
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO contacts (
			id, org_id, phone, phone_hash, name, tags, segment_id, custom_fields, opted_out
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.db.ExecContext(ctx, query,
		c.ID, c.OrgID, phone, d.encryptor.LookupHash(c.Phone), c.Name,
		strings.Join(c.Tags, ","), c.SegmentID, string(fieldsJSON), c.OptedOut,
	)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

// ResolveRecipients returns the contacts matching the filter, excluding
// opted-out contacts. Ordering is stable (by contact id) so batch
// partitioning is deterministic. The caller enforces the safety cap.
func (d *Database) ResolveRecipients(ctx context.Context, orgID string, filter models.RecipientFilter) ([]models.Recipient, error) {
	query := `
		SELECT id, phone, name, tags, custom_fields
		FROM contacts
		WHERE org_id = ? AND opted_out = FALSE
	`
	args := []interface{}{orgID}

	switch filter.Type {
	case models.FilterTypeAll:
	case models.FilterTypeSegment:
		query += ` AND segment_id = ?`
		args = append(args, filter.SegmentID)
	case models.FilterTypeTags:
		// Tag matching is finished in Go; the LIKE clauses just prune the scan.
		if len(filter.Tags) > 0 {
			likes := make([]string, 0, len(filter.Tags))
			for _, tag := range filter.Tags {
				likes = append(likes, "tags LIKE ?")
				args = append(args, "%"+tag+"%")
			}
			query += ` AND (` + strings.Join(likes, " OR ") + `)`
		}
	default:
		return nil, fmt.Errorf("unknown filter type: %q", filter.Type)
	}

	query += ` ORDER BY id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	defer rows.Close()

	wantTags := make(map[string]bool, len(filter.Tags))
	for _, t := range filter.Tags {
		wantTags[t] = true
	}

	var out []models.Recipient
	for rows.Next() {
		var id, phone, tags, fieldsJSON string
		var name sql.NullString
		if err := rows.Scan(&id, &phone, &name, &tags, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}

		if filter.Type == models.FilterTypeTags && !hasAnyTag(tags, wantTags) {
			continue
		}

		decrypted, err := d.encryptor.DecryptIfEnabled(phone)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt phone: %w", err)
		}

		var customFields map[string]string
		if err := json.Unmarshal([]byte(fieldsJSON), &customFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal custom fields: %w", err)
		}

		out = append(out, models.Recipient{
			ContactID:    id,
			Phone:        decrypted,
			Name:         name.String,
			CustomFields: customFields,
		})
	}
	return out, rows.Err()
}

func hasAnyTag(stored string, want map[string]bool) bool {
	for _, tag := range strings.Split(stored, ",") {
		if want[strings.TrimSpace(tag)] {
			return true
		}
	}
	return false
}

// GetTemplate returns the template regardless of approval status; callers
// decide whether an unapproved template is acceptable.
func (d *Database) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	query := `
		SELECT id, org_id, name, category, language, body, status, created_at, updated_at
		FROM templates
		WHERE id = ?
	`

	t := &models.Template{}
	var status string
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.OrgID, &t.Name, &t.Category, &t.Language, &t.Body, &status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	t.Status = models.TemplateStatus(status)
	return t, nil
}

func (d *Database) SaveTemplate(ctx context.Context, t *models.Template) error {
	query := `
		INSERT OR REPLACE INTO templates (id, org_id, name, category, language, body, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, query,
		t.ID, t.OrgID, t.Name, t.Category, t.Language, t.Body, string(t.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}
