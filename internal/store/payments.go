package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/models"
)

const paymentColumns = `id, order_id, payment_no, method, amount, status, third_party_transaction_id,
		notify_data, refund_amount, refund_reason, failure_reason, paid_at, created_at, updated_at`

func scanPayment(row rowScanner, p *models.Payment) error {
	var notify []byte
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.PaymentNo,
		&p.Method,
		&p.Amount,
		&p.Status,
		&p.ThirdPartyTransactionID,
		&notify,
		&p.RefundAmount,
		&p.RefundReason,
		&p.FailureReason,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	p.NotifyData = notify
	return nil
}

// notifyArg passes raw gateway payloads as text so Postgres parses them
// into JSONB.
func notifyArg(p *models.Payment) any {
	if len(p.NotifyData) == 0 {
		return nil
	}
	return string(p.NotifyData)
}

func InsertPayment(ctx context.Context, q database.Querier, p *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, payment_no, method, amount, status, third_party_transaction_id,
		                      notify_data, refund_amount, refund_reason, failure_reason, paid_at,
		                      created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::JSONB, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err := q.QueryRowContext(ctx, query,
		p.OrderID,
		p.PaymentNo,
		p.Method,
		p.Amount,
		p.Status,
		p.ThirdPartyTransactionID,
		notifyArg(p),
		p.RefundAmount,
		p.RefundReason,
		p.FailureReason,
		p.PaidAt,
		p.CreatedAt,
		p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		if database.IsUniqueViolation(err, "uk_payments_payment_no") {
			return fmt.Errorf("%w: payment number %s taken", database.ErrOptimisticLockFailed, p.PaymentNo)
		}
		return fmt.Errorf("create payment: %w", err)
	}

	return nil
}

// LatestPaymentForUpdate locks the newest payment of the order in one of
// statuses, or in any status when none are given.
func LatestPaymentForUpdate(ctx context.Context, q database.Querier, orderID int64, statuses ...models.PaymentRecordStatus) (*models.Payment, error) {
	p := &models.Payment{}

	args := []any{orderID}
	where := "order_id = $1"
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		args = append(args, pq.Array(names))
		where += " AND status = ANY($2)"
	}

	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT 1
		FOR UPDATE`

	if err := scanPayment(q.QueryRowContext(ctx, query, args...), p); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}

	return p, nil
}

func UpdatePayment(ctx context.Context, q database.Querier, p *models.Payment) error {
	result, err := q.ExecContext(ctx,
		`UPDATE payments
		 SET status = $1,
		     third_party_transaction_id = $2,
		     notify_data = $3::JSONB,
		     refund_amount = $4,
		     refund_reason = $5,
		     failure_reason = $6,
		     paid_at = $7,
		     updated_at = $8,
		     method = $9
		 WHERE id = $10`,
		p.Status,
		p.ThirdPartyTransactionID,
		notifyArg(p),
		p.RefundAmount,
		strings.TrimSpace(p.RefundReason),
		p.FailureReason,
		p.PaidAt,
		p.UpdatedAt,
		p.Method,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrPaymentNotFound
	}

	return nil
}
