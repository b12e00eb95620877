package scandb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE servers (
			address   TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			response  TEXT NOT NULL
		) STRICT;
	`); err != nil {
		return fmt.Errorf("create servers table: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE servers`); err != nil {
		return fmt.Errorf("drop servers table: %w", err)
	}
	return nil
}
