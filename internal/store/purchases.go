package store

import (
	"context"
	"database/sql"
	"fmt"

	"reservation-service/internal/models"
)

// InsertPurchase creates a purchase record and its lines
func (t *pgTx) InsertPurchase(ctx context.Context, p *models.Purchase) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO purchases (id, user_id, created_at) VALUES ($1, $2, $3)",
		p.ID, p.UserID, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}

	for _, line := range p.Lines {
		_, err := t.tx.ExecContext(ctx,
			"INSERT INTO purchase_lines (purchase_id, item_id, quantity) VALUES ($1, $2, $3)",
			p.ID, line.ItemID, line.Quantity)
		if err != nil {
			return fmt.Errorf("failed to create purchase line for item %s: %w", line.ItemID, err)
		}
	}

	return nil
}

// GetPurchaseByID retrieves a purchase with its lines
func (s *PostgresStore) GetPurchaseByID(ctx context.Context, id string) (*models.Purchase, error) {
	var p models.Purchase
	err := s.db.GetContext(ctx, &p, "SELECT * FROM purchases WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("purchase %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase %s: %w", id, err)
	}

	if err := s.db.SelectContext(ctx, &p.Lines,
		"SELECT * FROM purchase_lines WHERE purchase_id = $1 ORDER BY item_id", id); err != nil {
		return nil, fmt.Errorf("failed to get purchase lines: %w", err)
	}
	return &p, nil
}
