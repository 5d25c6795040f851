package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/l1jgo/realm/internal/dbproxy"
)

// Journal records every applied write command by id, in the same
// transaction as the write itself.
type Journal struct {
	db *DB
}

func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

// claim records cmd as applied. It reports false when the id was already
// there, in which case the caller must not apply the write again.
func (j *Journal) claim(ctx context.Context, q querier, cmd dbproxy.Command) (bool, error) {
	tag, err := q.Exec(ctx,
		`INSERT INTO applied_commands (id, table_name, key) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		cmd.ID, cmd.Table, cmd.Key,
	)
	if err != nil {
		return false, fmt.Errorf("journal %s: %w", cmd.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Prune forgets commands applied more than age ago. A retry never
// arrives that late.
func (j *Journal) Prune(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := j.db.Pool.Exec(ctx,
		`DELETE FROM applied_commands WHERE applied_at < $1`,
		time.Now().Add(-age),
	)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return tag.RowsAffected(), nil
}
