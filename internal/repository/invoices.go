package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/swapstation/internal/model"
)

// CreateInvoice сохраняет счёт со строками дефектов и привязывает его к сессии,
// продвигая её статус. Повторный счёт для той же сессии отклоняется.
func (r *PostgresRepository) CreateInvoice(ctx context.Context, ch SessionChange, inv *model.Invoice, lines []model.InvoiceDamageFee) (*model.SwapSession, error) {
	var out *model.SwapSession
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO invoices (id, type, user_id, swap_session_id, amount_origin, amount_discount,
			                       amount_fee, amount_fee_discount, amount_total, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING created_at`,
			inv.ID, string(inv.Type), inv.UserID, inv.SwapSessionID, inv.AmountOrigin, inv.AmountDiscount,
			inv.AmountFee, inv.AmountFeeDiscount, inv.AmountTotal, string(inv.Status),
		).Scan(&inv.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: invoice already exists for session %s", ErrStaleState, ch.ID)
			}
			return fmt.Errorf("insert invoice: %w", err)
		}

		batch := &pgx.Batch{}
		for _, l := range lines {
			batch.Queue(
				`INSERT INTO invoice_damage_fees (id, invoice_id, damage_fee_id, name, severity,
				                                  amount_original, amount_discount, amount_final)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				l.ID, inv.ID, l.DamageFeeID, l.Name, l.Severity, l.AmountOriginal, l.AmountDiscount, l.AmountFinal,
			)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert invoice lines: %w", err)
			}
		}

		ch.InvoiceID = &inv.ID
		s, err := applySessionChange(ctx, tx, ch)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// GetInvoice возвращает счёт и его строки дефектов.
func (r *PostgresRepository) GetInvoice(ctx context.Context, id string) (*model.Invoice, []model.InvoiceDamageFee, error) {
	var (
		inv    model.Invoice
		typ    string
		status string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, type, user_id, swap_session_id, amount_origin, amount_discount,
		        amount_fee, amount_fee_discount, amount_total, status, created_at
		 FROM invoices WHERE id = $1`, id,
	).Scan(&inv.ID, &typ, &inv.UserID, &inv.SwapSessionID, &inv.AmountOrigin, &inv.AmountDiscount,
		&inv.AmountFee, &inv.AmountFeeDiscount, &inv.AmountTotal, &status, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrInvoiceNotFound
		}
		return nil, nil, fmt.Errorf("get invoice: %w", err)
	}
	inv.Type = model.InvoiceType(typ)
	inv.Status = model.InvoiceStatus(status)

	rows, err := r.pool.Query(ctx,
		`SELECT id, invoice_id, damage_fee_id, name, severity, amount_original, amount_discount, amount_final
		 FROM invoice_damage_fees
		 WHERE invoice_id = $1
		 ORDER BY id`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("select invoice lines: %w", err)
	}
	defer rows.Close()

	var lines []model.InvoiceDamageFee
	for rows.Next() {
		var l model.InvoiceDamageFee
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.DamageFeeID, &l.Name, &l.Severity,
			&l.AmountOriginal, &l.AmountDiscount, &l.AmountFinal); err != nil {
			return nil, nil, fmt.Errorf("scan invoice line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("rows error: %w", err)
	}

	return &inv, lines, nil
}

func setInvoiceStatus(ctx context.Context, q querier, ch InvoiceChange) error {
	tag, err := q.Exec(ctx,
		`UPDATE invoices SET status = $3 WHERE id = $1 AND status = $2`,
		ch.ID, string(ch.From), string(ch.To),
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %s is no longer %q", ErrStaleState, ch.ID, ch.From)
	}
	return nil
}
