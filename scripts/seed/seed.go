package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/novafarm/console/internal/rbac"
	"github.com/novafarm/console/internal/rbac/seed"
)

// apply writes the plan inside tx. Permission rows go through rbac.PGStore so
// the seed and the console share one upsert.
func apply(ctx context.Context, tx pgx.Tx, plan seed.Plan, store rbac.Store) error {
	if err := seed.SavePermissions(ctx, store, plan); err != nil {
		return err
	}
	for _, op := range plan.Operators {
		hash, err := bcrypt.GenerateFromPassword([]byte(op.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		var userID string
		err = tx.QueryRow(ctx, `
			INSERT INTO users (email, username, password_hash, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, TRUE, NOW(), NOW())
			ON CONFLICT (email) DO UPDATE SET username = EXCLUDED.username, updated_at = NOW()
			RETURNING id::text`, op.Email, op.Username, string(hash)).Scan(&userID)
		if err != nil {
			return fmt.Errorf("seed operator %s: %w", op.Email, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO team_mate (user_id, role)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role`, userID, string(op.Role)); err != nil {
			return fmt.Errorf("seed team_mate %s: %w", op.Email, err)
		}
	}
	return nil
}
