package persist

import (
	"context"
	"fmt"
)

// CharacterRepo stores each character as one JSONB document keyed by
// name. The document's shape belongs to the realm.
type CharacterRepo struct{}

func (CharacterRepo) Load(ctx context.Context, q querier, name string) ([]byte, error) {
	var state []byte
	err := q.QueryRow(ctx,
		`SELECT state FROM characters WHERE name = $1 AND deleted_at IS NULL`, name,
	).Scan(&state)
	if err != nil {
		return nil, fmt.Errorf("character %q: %w", name, err)
	}
	return state, nil
}

func (CharacterRepo) Create(ctx context.Context, q querier, name, account string, state []byte) error {
	_, err := q.Exec(ctx,
		`INSERT INTO characters (name, account_name, state) VALUES ($1, $2, $3)`,
		name, account, state,
	)
	return err
}

// Save overwrites the document. A character that does not exist yet is
// created, so a save that raced ahead of its create still lands.
func (CharacterRepo) Save(ctx context.Context, q querier, name, account string, state []byte) error {
	_, err := q.Exec(ctx,
		`INSERT INTO characters (name, account_name, state) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
		 WHERE characters.deleted_at IS NULL`,
		name, account, state,
	)
	return err
}

// Delete is soft; the row stays for recovery.
func (CharacterRepo) Delete(ctx context.Context, q querier, name string) error {
	_, err := q.Exec(ctx,
		`UPDATE characters SET deleted_at = NOW() WHERE name = $1 AND deleted_at IS NULL`, name,
	)
	return err
}
