package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// Account is the accounts row, and the payload carried for the accounts
// table on the persistence link.
type Account struct {
	Name         string     `json:"name"`
	PasswordHash string     `json:"password_hash"`
	Banned       bool       `json:"banned"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActive   *time.Time `json:"last_active,omitempty"`
}

// HashPassword is slow by design of bcrypt; keep it off the tick goroutine.
func HashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

type AccountRepo struct{}

func (AccountRepo) Load(ctx context.Context, q querier, name string) (*Account, error) {
	a := &Account{}
	err := q.QueryRow(ctx,
		`SELECT name, password_hash, banned, created_at, last_active
		 FROM accounts WHERE name = $1`, name,
	).Scan(&a.Name, &a.PasswordHash, &a.Banned, &a.CreatedAt, &a.LastActive)
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", name, err)
	}
	return a, nil
}

func (AccountRepo) Create(ctx context.Context, q querier, a Account) error {
	if a.Name == "" || a.PasswordHash == "" {
		return fmt.Errorf("account needs a name and a password hash")
	}
	_, err := q.Exec(ctx,
		`INSERT INTO accounts (name, password_hash, banned, last_active)
		 VALUES ($1, $2, $3, $4)`,
		a.Name, a.PasswordHash, a.Banned, a.LastActive,
	)
	return err
}

// Update writes the mutable columns: ban flag and last activity.
func (AccountRepo) Update(ctx context.Context, q querier, a Account) error {
	tag, err := q.Exec(ctx,
		`UPDATE accounts SET banned = $2, last_active = COALESCE($3, last_active) WHERE name = $1`,
		a.Name, a.Banned, a.LastActive,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update account %q: %w", a.Name, pgx.ErrNoRows)
	}
	return nil
}

func (AccountRepo) Delete(ctx context.Context, q querier, name string) error {
	_, err := q.Exec(ctx, `DELETE FROM accounts WHERE name = $1`, name)
	return err
}
