package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wadispatch/internal/models"
)

func (d *Database) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (org_id, order_id, type, amount, currency, status, plan_id, period_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := d.db.ExecContext(ctx, query,
		t.OrgID, t.OrderID, string(t.Type), t.Amount, t.Currency, string(t.Status), t.PlanID, t.PeriodDays,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transaction id: %w", err)
	}
	t.ID = id
	return nil
}

func (d *Database) GetTransactionByOrderID(ctx context.Context, orderID string) (*models.Transaction, error) {
	query := `
		SELECT id, org_id, order_id, type, amount, currency, status, plan_id, period_days,
		       completed_at, created_at, updated_at
		FROM transactions
		WHERE order_id = ?
	`

	t := &models.Transaction{}
	var txType, status string
	var planID sql.NullString
	err := d.db.QueryRowContext(ctx, query, orderID).Scan(
		&t.ID, &t.OrgID, &t.OrderID, &txType, &t.Amount, &t.Currency, &status, &planID, &t.PeriodDays,
		&t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	t.Type = models.TransactionType(txType)
	t.Status = models.TransactionStatus(status)
	t.PlanID = planID.String
	return t, nil
}

// TransitionTransactionStatus is the compare-and-swap that makes webhook
// processing idempotent: only the delivery that wins the race from the
// expected status applies side effects. Everyone else sees false.
func (d *Database) TransitionTransactionStatus(ctx context.Context, orderID string, from, to models.TransactionStatus) (bool, error) {
	query := `
		UPDATE transactions
		SET status = ?,
		    completed_at = CASE WHEN ? = 'completed' THEN CURRENT_TIMESTAMP ELSE completed_at END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE order_id = ? AND status = ?
	`

	var affected int64
	err := retryableDBOperation(ctx, func() error {
		res, execErr := d.db.ExecContext(ctx, query, string(to), string(to), orderID, string(from))
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	}, "transition transaction status")
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CreditWallet appends a credit ledger entry and updates the cached balance
// in a single transaction. The ledger is the audit trail; balance_after on
// the entry must always equal the cached balance written alongside it.
func (d *Database) CreditWallet(ctx context.Context, orgID string, amount float64, reference, description string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %v", amount)
	}
	return d.applyLedgerEntry(ctx, orgID, models.LedgerCredit, amount, reference, description)
}

// DebitWallet appends a debit ledger entry, failing if it would drive the
// balance negative.
func (d *Database) DebitWallet(ctx context.Context, orgID string, amount float64, reference, description string) (*models.WalletTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %v", amount)
	}
	return d.applyLedgerEntry(ctx, orgID, models.LedgerDebit, amount, reference, description)
}

func (d *Database) applyLedgerEntry(ctx context.Context, orgID string, entryType models.LedgerEntryType, amount float64, reference, description string) (*models.WalletTransaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance float64
	if err := tx.QueryRowContext(ctx,
		`SELECT wallet_balance FROM organizations WHERE id = ?`, orgID,
	).Scan(&balance); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("organization %s not found", orgID)
		}
		return nil, fmt.Errorf("failed to read wallet balance: %w", err)
	}

	newBalance := balance + amount
	if entryType == models.LedgerDebit {
		newBalance = balance - amount
		if newBalance < 0 {
			return nil, fmt.Errorf("insufficient wallet balance: have %v, need %v", balance, amount)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (org_id, type, amount, balance_after, reference, description)
		VALUES (?, ?, ?, ?, ?, ?)
	`, orgID, string(entryType), amount, newBalance, reference, description)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE organizations SET wallet_balance = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, newBalance, orgID); err != nil {
		return nil, fmt.Errorf("failed to update cached balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ledger entry: %w", err)
	}

	return &models.WalletTransaction{
		ID:           entryID,
		OrgID:        orgID,
		Type:         entryType,
		Amount:       amount,
		BalanceAfter: newBalance,
		Reference:    reference,
		Description:  description,
	}, nil
}

// ActivatePlan sets the organization's plan and expiry.
func (d *Database) ActivatePlan(ctx context.Context, orgID, planID string, expiresAt time.Time) error {
	query := `
		UPDATE organizations
		SET plan_id = ?, plan_expires_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	res, err := d.db.ExecContext(ctx, query, planID, expiresAt.UTC(), orgID)
	if err != nil {
		return fmt.Errorf("failed to activate plan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("organization %s not found", orgID)
	}
	return nil
}

// ExtendSubscription pushes the plan expiry forward by the given period,
// starting from the current expiry when it is still in the future.
func (d *Database) ExtendSubscription(ctx context.Context, orgID string, periodDays int) error {
	org, err := d.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if org == nil {
		return fmt.Errorf("organization %s not found", orgID)
	}

	base := time.Now().UTC()
	if org.PlanExpiresAt != nil && org.PlanExpiresAt.After(base) {
		base = *org.PlanExpiresAt
	}
	newExpiry := base.AddDate(0, 0, periodDays)

	query := `
		UPDATE organizations
		SET plan_expires_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := d.db.ExecContext(ctx, query, newExpiry, orgID); err != nil {
		return fmt.Errorf("failed to extend subscription: %w", err)
	}
	return nil
}

func (d *Database) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	query := `
		INSERT INTO invoices (org_id, number, transaction_id, amount, currency)
		VALUES (?, ?, ?, ?, ?)
	`
	res, err := d.db.ExecContext(ctx, query, inv.OrgID, inv.Number, inv.TransactionID, inv.Amount, inv.Currency)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get invoice id: %w", err)
	}
	inv.ID = id
	return nil
}

// CountInvoicesForTransaction supports verifying the exactly-once property.
func (d *Database) CountInvoicesForTransaction(ctx context.Context, transactionID int64) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE transaction_id = ?`, transactionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count invoices: %w", err)
	}
	return count, nil
}

func (d *Database) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	query := `
		SELECT id, name, wallet_balance, plan_id, plan_expires_at, created_at, updated_at
		FROM organizations
		WHERE id = ?
	`

	org := &models.Organization{}
	var planID sql.NullString
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID, &org.Name, &org.WalletBalance, &planID, &org.PlanExpiresAt, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.PlanID = planID.String
	return org, nil
}

func (d *Database) CreateOrganization(ctx context.Context, org *models.Organization) error {
	query := `INSERT INTO organizations (id, name, wallet_balance) VALUES (?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, query, org.ID, org.Name, org.WalletBalance); err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// ListWalletTransactions returns the ledger for an organization, newest first.
func (d *Database) ListWalletTransactions(ctx context.Context, orgID string, limit int) ([]*models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, org_id, type, amount, balance_after, reference, description, created_at
		FROM wallet_transactions
		WHERE org_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.WalletTransaction
	for rows.Next() {
		wt := &models.WalletTransaction{}
		var entryType string
		var description sql.NullString
		if err := rows.Scan(&wt.ID, &wt.OrgID, &entryType, &wt.Amount, &wt.BalanceAfter, &wt.Reference, &description, &wt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet transaction: %w", err)
		}
		wt.Type = models.LedgerEntryType(entryType)
		wt.Description = description.String
		out = append(out, wt)
	}
	return out, rows.Err()
}
