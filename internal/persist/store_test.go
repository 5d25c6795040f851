package persist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	err := classify(fmt.Errorf("character %q: %w", "alia", pgx.ErrNoRows))
	assert.ErrorIs(t, err, dbproxy.ErrNotFound)
	assert.False(t, dbproxy.IsTransient(err))

	err = classify(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_pkey"})
	assert.ErrorIs(t, err, dbproxy.ErrConflict)
	assert.Contains(t, err.Error(), "accounts_pkey")

	for _, code := range []string{"40001", "40P01", "53300", "57P01", "08006"} {
		assert.True(t, dbproxy.IsTransient(classify(&pgconn.PgError{Code: code})), code)
	}
	assert.False(t, dbproxy.IsTransient(classify(&pgconn.PgError{Code: "22P02"})))

	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	assert.True(t, dbproxy.IsTransient(classify(fmt.Errorf("begin: %w", dial))))
	assert.True(t, dbproxy.IsTransient(classify(context.DeadlineExceeded)))
	assert.False(t, dbproxy.IsTransient(classify(errors.New("bad payload"))))
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("hunter2")
	assert.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
	assert.False(t, CheckPassword("not-a-hash", "hunter2"))
}
