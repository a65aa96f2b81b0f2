package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"wadispatch/internal/migrations"
	"wadispatch/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Apply(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (close error: %v)", err, closeErr)
		}
		return nil, err
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	filterJSON, err := json.Marshal(c.Filter)
	if err != nil {
		return fmt.Errorf("failed to marshal recipient filter: %w", err)
	}
	variables := c.Variables
	if variables == nil {
		variables = map[string]string{}
	}
	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign variables: %w", err)
	}

	query := `
		INSERT INTO campaigns (
			org_id, name, template_id, filter_json, variables_json,
			status, estimated_cost, scheduled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := d.db.ExecContext(ctx, query,
		c.OrgID, c.Name, c.TemplateID, string(filterJSON), string(variablesJSON),
		string(c.Status), c.EstimatedCost, c.ScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get campaign id: %w", err)
	}
	c.ID = id
	return nil
}

func (d *Database) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	query := `
		SELECT id, org_id, name, template_id, filter_json, variables_json,
		       status, total_recipients, sent_count, delivered_count, read_count,
		       failed_count, estimated_cost, actual_cost,
		       scheduled_at, started_at, completed_at, created_at, updated_at
		FROM campaigns
		WHERE id = ?
	`

	c := &models.Campaign{}
	var filterJSON, variablesJSON string
	var status string
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.OrgID, &c.Name, &c.TemplateID, &filterJSON, &variablesJSON,
		&status, &c.TotalRecipients, &c.SentCount, &c.DeliveredCount, &c.ReadCount,
		&c.FailedCount, &c.EstimatedCost, &c.ActualCost,
		&c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	c.Status = models.CampaignStatus(status)
	if err := json.Unmarshal([]byte(filterJSON), &c.Filter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipient filter: %w", err)
	}
	if err := json.Unmarshal([]byte(variablesJSON), &c.Variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign variables: %w", err)
	}
	return c, nil
}

// TransitionCampaignStatus moves a campaign from one of the expected statuses
// to the new status. Returns false without error when the campaign was not in
// any of the expected statuses, so callers can treat lost races as no-ops.
func (d *Database) TransitionCampaignStatus(ctx context.Context, id int64, from []models.CampaignStatus, to models.CampaignStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no expected statuses given")
	}

	args := []interface{}{string(to), id}
	placeholders := ""
	for i, s := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(s))
	}

	query := fmt.Sprintf(`UPDATE campaigns SET status = ? WHERE id = ? AND status IN (%s)`, placeholders)

	var affected int64
	err := retryableDBOperation(ctx, func() error {
		res, execErr := d.db.ExecContext(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	}, "transition campaign status")
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkCampaignStarted records the start of a send run.
func (d *Database) MarkCampaignStarted(ctx context.Context, id int64, total int, estimatedCost float64) error {
	query := `
		UPDATE campaigns
		SET total_recipients = ?, estimated_cost = ?, started_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	_, err := d.db.ExecContext(ctx, query, total, estimatedCost, id)
	if err != nil {
		return fmt.Errorf("failed to mark campaign started: %w", err)
	}
	return nil
}

// IncrementSendCounters applies one batch's worth of sent/failed/cost deltas.
func (d *Database) IncrementSendCounters(ctx context.Context, id int64, sentDelta, failedDelta int, costDelta float64) error {
	query := `
		UPDATE campaigns
		SET sent_count = sent_count + ?,
		    failed_count = failed_count + ?,
		    actual_cost = actual_cost + ?
		WHERE id = ?
	`
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, sentDelta, failedDelta, costDelta, id)
		return err
	}, "increment send counters")
}

// IncrementDeliveryCounter bumps one of the delivered/read/failed counters.
// The guards keep delivered <= sent and read <= delivered even if the
// reconciler ever double-fires; a guarded no-op returns false.
func (d *Database) IncrementDeliveryCounter(ctx context.Context, id int64, kind models.MessageStatus) (bool, error) {
	var query string
	switch kind {
	case models.MessageStatusDelivered:
		query = `UPDATE campaigns SET delivered_count = delivered_count + 1
			 WHERE id = ? AND delivered_count < sent_count`
	case models.MessageStatusRead:
		query = `UPDATE campaigns SET read_count = read_count + 1
			 WHERE id = ? AND read_count < delivered_count`
	case models.MessageStatusFailed:
		query = `UPDATE campaigns SET failed_count = failed_count + 1
			 WHERE id = ? AND sent_count + failed_count < total_recipients`
	default:
		return false, fmt.Errorf("unsupported delivery counter: %s", kind)
	}

	var affected int64
	err := retryableDBOperation(ctx, func() error {
		res, execErr := d.db.ExecContext(ctx, query, id)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	}, "increment delivery counter")
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FinalizeCampaign records the terminal status of a completed run.
func (d *Database) FinalizeCampaign(ctx context.Context, id int64, status models.CampaignStatus, actualCost float64) error {
	query := `
		UPDATE campaigns
		SET status = ?, actual_cost = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, string(status), actualCost, id)
		return err
	}, "finalize campaign")
}

// ListDueScheduledCampaigns returns scheduled campaigns whose scheduled time
// has passed.
func (d *Database) ListDueScheduledCampaigns(ctx context.Context, now time.Time) ([]int64, error) {
	query := `
		SELECT id FROM campaigns
		WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at
	`
	rows, err := d.db.QueryContext(ctx, query, string(models.CampaignStatusScheduled), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListInterruptedCampaigns returns campaigns left in sending state, used at
// startup to recover from a crashed dispatcher.
func (d *Database) ListInterruptedCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	query := `SELECT id FROM campaigns WHERE status = ?`
	rows, err := d.db.QueryContext(ctx, query, string(models.CampaignStatusSending))
	if err != nil {
		return nil, fmt.Errorf("failed to list interrupted campaigns: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	campaigns := make([]*models.Campaign, 0, len(ids))
	for _, id := range ids {
		c, err := d.GetCampaign(ctx, id)
		if err != nil {
			return nil, err
		}
		if c != nil {
			campaigns = append(campaigns, c)
		}
	}
	return campaigns, nil
}

// DeleteTerminalCampaignsBefore removes terminal campaigns, their recipient
// rows and messages older than the cutoff. Used by the retention cleanup.
func (d *Database) DeleteTerminalCampaignsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	terminal := []interface{}{
		string(models.CampaignStatusSent),
		string(models.CampaignStatusPartiallySent),
		string(models.CampaignStatusFailed),
		string(models.CampaignStatusCancelled),
	}

	selectOld := `SELECT id FROM campaigns WHERE status IN (?, ?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`
	args := append(terminal, cutoff.UTC())

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM campaign_recipients WHERE campaign_id IN (`+selectOld+`)`, args...); err != nil {
		return 0, fmt.Errorf("failed to delete old recipients: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE campaign_id IN (`+selectOld+`)`, args...); err != nil {
		return 0, fmt.Errorf("failed to delete old messages: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM campaigns WHERE id IN (`+selectOld+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old campaigns: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return deleted, nil
}
