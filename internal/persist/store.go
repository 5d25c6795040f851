package persist

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/l1jgo/realm/internal/dbproxy"
	"go.uber.org/zap"
)

// Store executes persistence commands against PostgreSQL. It is the
// Executor behind dbproxyd.
type Store struct {
	db       *DB
	accounts AccountRepo
	chars    CharacterRepo
	journal  *Journal
	log      *zap.Logger
}

func NewStore(db *DB, log *zap.Logger) *Store {
	return &Store{db: db, journal: NewJournal(db), log: log.Named("store")}
}

func (s *Store) Journal() *Journal { return s.journal }

func (s *Store) Execute(ctx context.Context, cmd dbproxy.Command) ([]byte, error) {
	if cmd.Kind == dbproxy.KindQuery {
		out, err := s.query(ctx, cmd)
		return out, classify(err)
	}
	return nil, classify(s.write(ctx, cmd))
}

func (s *Store) query(ctx context.Context, cmd dbproxy.Command) ([]byte, error) {
	switch cmd.Table {
	case dbproxy.TableAccounts:
		a, err := s.accounts.Load(ctx, s.db.Pool, cmd.Key)
		if err != nil {
			return nil, err
		}
		return json.Marshal(a)
	case dbproxy.TableCharacters:
		return s.chars.Load(ctx, s.db.Pool, cmd.Key)
	case dbproxy.TableReference:
		var v []byte
		err := s.db.Pool.QueryRow(ctx, `SELECT value FROM reference_data WHERE key = $1`, cmd.Key).Scan(&v)
		if err != nil {
			return nil, fmt.Errorf("reference %q: %w", cmd.Key, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("query on unknown table %q", cmd.Table)
}

// write applies cmd and journals its id in one transaction.
func (s *Store) write(ctx context.Context, cmd dbproxy.Command) error {
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		fresh, err := s.journal.claim(ctx, tx, cmd)
		if err != nil {
			return err
		}
		if !fresh {
			s.log.Debug("指令已套用過，略過", zap.Stringer("cmd", cmd))
			return nil
		}
		switch cmd.Table {
		case dbproxy.TableAccounts:
			return s.writeAccount(ctx, tx, cmd)
		case dbproxy.TableCharacters:
			return s.writeCharacter(ctx, tx, cmd)
		case dbproxy.TableReference:
			return s.writeReference(ctx, tx, cmd)
		}
		return fmt.Errorf("write to unknown table %q", cmd.Table)
	})
}

func (s *Store) writeAccount(ctx context.Context, tx pgx.Tx, cmd dbproxy.Command) error {
	if cmd.Kind == dbproxy.KindDelete {
		return s.accounts.Delete(ctx, tx, cmd.Key)
	}
	var a Account
	if err := json.Unmarshal(cmd.Payload, &a); err != nil {
		return fmt.Errorf("decode account %q: %w", cmd.Key, err)
	}
	a.Name = cmd.Key
	if cmd.Kind == dbproxy.KindCreate {
		return s.accounts.Create(ctx, tx, a)
	}
	return s.accounts.Update(ctx, tx, a)
}

func (s *Store) writeCharacter(ctx context.Context, tx pgx.Tx, cmd dbproxy.Command) error {
	if cmd.Kind == dbproxy.KindDelete {
		return s.chars.Delete(ctx, tx, cmd.Key)
	}
	var head struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(cmd.Payload, &head); err != nil {
		return fmt.Errorf("decode character %q: %w", cmd.Key, err)
	}
	if head.Account == "" {
		return fmt.Errorf("character %q has no account", cmd.Key)
	}
	if cmd.Kind == dbproxy.KindCreate {
		return s.chars.Create(ctx, tx, cmd.Key, head.Account, cmd.Payload)
	}
	return s.chars.Save(ctx, tx, cmd.Key, head.Account, cmd.Payload)
}

func (s *Store) writeReference(ctx context.Context, tx pgx.Tx, cmd dbproxy.Command) error {
	if cmd.Kind == dbproxy.KindDelete {
		_, err := tx.Exec(ctx, `DELETE FROM reference_data WHERE key = $1`, cmd.Key)
		return err
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO reference_data (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		cmd.Key, cmd.Payload,
	)
	return err
}
