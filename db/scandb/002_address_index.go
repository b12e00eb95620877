package scandb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up002, down002)
}

// up002 adds an index on address, supporting the supplemental
// LatestByAddress lookup without touching the append-only write path.
func up002(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `CREATE INDEX servers_address_idx ON servers(address)`); err != nil {
		return fmt.Errorf("create servers_address_idx index: %w", err)
	}
	return nil
}

func down002(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX servers_address_idx`); err != nil {
		return fmt.Errorf("drop servers_address_idx index: %w", err)
	}
	return nil
}
