package persist

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Schema files: accounts and characters, then the reference table and the
// applied-command journal that makes retried writes idempotent.
//
//go:embed migrations/*.sql
var schema embed.FS

// gooseLog routes goose's progress lines into zap.
type gooseLog struct{ s *zap.SugaredLogger }

func (g gooseLog) Printf(format string, v ...interface{}) { g.s.Infof(format, v...) }
func (g gooseLog) Fatalf(format string, v ...interface{}) { g.s.Fatalf(format, v...) }

// Migrate brings the schema up to date and returns the version it ended at.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) (int64, error) {
	goose.SetLogger(gooseLog{s: log.Named("schema").Sugar()})
	goose.SetBaseFS(schema)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("schema dialect: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return 0, fmt.Errorf("migrate schema: %w", err)
	}
	version, err := goose.GetDBVersion(sqlDB)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return version, nil
}
