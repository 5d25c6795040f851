// Command dbproxyd is the persistence proxy: it owns the PostgreSQL pool
// and serves database commands from realmd over the proxy link.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/l1jgo/realm/internal/config"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/persist"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	pruneEvery   = time.Hour
	journalAfter = 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := "config/dbproxyd.toml"
	if p := os.Getenv("REALM_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to dbproxyd.toml")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := persist.NewDB(connectCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	version, err := persist.Migrate(connectCtx, db.Pool, log)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("資料庫就緒", zap.Int64("schema", version))

	codec, err := packet.NewCodec(cfg.Network.ClientCharset, cfg.Network.MaxFrameSize)
	if err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	store := persist.NewStore(db, log)
	srv := dbproxy.NewServer(store, codec, cfg.DBProxy.CommandTimeout, log)
	if err := srv.Listen(cfg.DBProxy.Address); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error { return pruneJournal(gctx, store.Journal(), log) })

	err = g.Wait()
	log.Info("資料庫代理已停止")
	return err
}

// pruneJournal periodically forgets applied command ids old enough that
// no retry can still carry them.
func pruneJournal(ctx context.Context, j *persist.Journal, log *zap.Logger) error {
	t := time.NewTicker(pruneEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := j.Prune(ctx, journalAfter)
			if err != nil {
				log.Warn("清理指令日誌失敗", zap.Error(err))
				continue
			}
			log.Debug("指令日誌已清理", zap.Int64("rows", n))
		}
	}
}
