// Command realmd runs the authoritative world: the game-logic port, the
// tick loop and the admin endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/l1jgo/realm/internal/config"
	"github.com/l1jgo/realm/internal/core/event"
	coresys "github.com/l1jgo/realm/internal/core/system"
	"github.com/l1jgo/realm/internal/data"
	"github.com/l1jgo/realm/internal/dbproxy"
	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/handler"
	"github.com/l1jgo/realm/internal/metrics"
	gonet "github.com/l1jgo/realm/internal/net"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/l1jgo/realm/internal/scripting"
	"github.com/l1jgo/realm/internal/system"
	"github.com/l1jgo/realm/internal/world"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := "config/realmd.toml"
	if p := os.Getenv("REALM_CONFIG"); p != "" {
		cfgPath = p
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to realmd.toml")
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
	log.Info("伺服器啟動中", zap.String("name", cfg.Server.Name), zap.Int("id", cfg.Server.ID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Fault log, optionally published through NATS.
	faults := faultlog.New(log, cfg.FaultLog.Recent)
	natsURL := cfg.FaultLog.NatsURL
	if cfg.FaultLog.Listen != "" {
		broker, err := faultlog.NewBroker(cfg.FaultLog.Listen, log)
		if err != nil {
			return err
		}
		if err := broker.Start(); err != nil {
			return err
		}
		g.Go(func() error { return broker.Run(gctx) })
		if natsURL == "" {
			natsURL = broker.ClientURL()
		}
	}
	if natsURL != "" {
		nc, err := faultlog.Connect(natsURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		faults.SetPublisher(nc, cfg.FaultLog.Subject)
	}

	// World definition and registry.
	dw, err := data.Load(data.Paths{
		Zones:     cfg.World.ZonesFile,
		Templates: cfg.World.TemplatesFile,
		Spawns:    cfg.World.SpawnsFile,
		Items:     cfg.World.ItemsFile,
		Drops:     cfg.World.DropsFile,
		Portals:   cfg.World.PortalsFile,
	})
	if err != nil {
		return fmt.Errorf("load world data: %w", err)
	}
	log.Info("世界資料已載入",
		zap.Int("zones", dw.Zones.Count()),
		zap.Int("templates", dw.Templates.Count()),
		zap.Int("spawns", len(dw.Spawns)),
		zap.Int("items", dw.Items.Count()),
		zap.Int("loot tables", dw.Drops.Count()),
		zap.Int("portals", dw.Portals.Count()),
	)
	wm := world.NewManager(dw.Zones.Zones(), log)

	scripts, err := scripting.NewEngine(scripting.Options{
		Dir:         cfg.Scripting.Dir,
		CallTimeout: cfg.Scripting.CallTimeout,
		PoolSize:    cfg.Scripting.PoolSize,
		Limits: scripting.Limits{
			MaxEffects:   cfg.Scripting.MaxEffects,
			MaxSpawns:    cfg.Scripting.MaxSpawns,
			MaxBuffTicks: cfg.Scripting.MaxBuffTicks,
			MaxBuffPower: cfg.Scripting.MaxBuffPower,
		},
	}, faults, log)
	if err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	defer scripts.Close()

	codec, err := packet.NewCodec(cfg.Network.ClientCharset, cfg.Network.MaxFrameSize)
	if err != nil {
		return fmt.Errorf("codec: %w", err)
	}

	// Persistence goes through the proxy when one is configured.
	var exec dbproxy.Executor
	if cfg.DBProxy.Address != "" {
		client := dbproxy.NewClient(cfg.DBProxy.Address, codec, cfg.DBProxy.DialTimeout, log)
		defer client.Close()
		exec = client
	} else {
		log.Warn("未設定資料庫代理位址，角色資料僅存於記憶體")
		exec = dbproxy.NewMemory()
	}
	var cache *dbproxy.Cache
	if cfg.DBProxy.CacheEntries > 0 {
		if cache, err = dbproxy.NewCache(cfg.DBProxy.CacheEntries); err != nil {
			return err
		}
	}
	queue := dbproxy.NewQueue(exec, cache, dbproxy.Options{
		Workers:        cfg.DBProxy.Workers,
		MaxRetries:     cfg.DBProxy.MaxRetries,
		BackoffBase:    cfg.DBProxy.BackoffBase,
		BackoffMax:     cfg.DBProxy.BackoffMax,
		CommandTimeout: cfg.DBProxy.CommandTimeout,
		CacheTables:    cfg.DBProxy.CacheTables,
	}, wm, faults, log)
	queue.Start()

	server, err := gonet.NewServer(cfg.Network.BindAddress, codec, gonet.ServerOptions{
		MaxConnections:   cfg.Network.MaxConnections,
		AcceptRate:       cfg.Network.AcceptRate,
		AcceptBurst:      cfg.Network.AcceptBurst,
		HandshakeTimeout: cfg.Network.HandshakeTimeout,
		ProtocolVersion:  cfg.Network.ProtocolVersion,
		TickRate:         cfg.Network.TickRate,
		Session: gonet.SessionOptions{
			InQueueSize:      cfg.Network.InQueueSize,
			OutQueueSize:     cfg.Network.OutQueueSize,
			PacketsPerSecond: cfg.Network.PacketsPerSecond,
			WriteTimeout:     cfg.Network.WriteTimeout,
		},
	}, gonet.NewTokenVerifier(cfg.Auth.TokenSecret), faults, log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}

	deps := &handler.Deps{
		Config:   cfg,
		Log:      log,
		World:    wm,
		Sessions: gonet.NewSessionStore(),
		Scripts:  scripts,
		DB:       queue,
		Data:     dw,
		Bus:      event.NewBus(),
		Codec:    codec,
		Faults:   faults,
	}
	reg := packet.NewRegistry(log)
	handler.RegisterAll(reg, deps)

	runner := coresys.NewRunner()
	set := system.Register(runner, server, reg, deps)
	loop := coresys.NewLoop(runner, cfg.Network.TickRate, log)

	m := metrics.New(metrics.Sources{
		Sessions: server.Active,
		Entities: wm.Count,
		Scripts:  scripts,
		Queue:    queue,
		Cache:    cache,
		Faults:   faults,
	})
	var lastTick atomic.Int64
	lastTick.Store(time.Now().UnixNano())
	loop.OnTick(func(tick uint64, took time.Duration) {
		lastTick.Store(time.Now().UnixNano())
		m.ObserveTick(tick, took)
	})
	runner.OnPhaseTiming(m.ObservePhase)
	loop.OnOverrun(func(o coresys.Overrun) {
		m.Overrun(o)
		faults.Record(faultlog.Entry{
			Kind:    faultlog.KindTickOverrun,
			Message: fmt.Sprintf("tick %d took %s of %s", o.Tick, o.Took, o.Period),
			Attrs:   map[string]string{"tick": fmt.Sprint(o.Tick)},
		})
	})

	if cfg.Admin.Address != "" {
		stall := 10 * cfg.Network.TickRate
		admin := &metrics.Admin{
			Metrics: m,
			Faults:  faults,
			Scripts: scripts,
			Log:     log,
			Health: func() error {
				if since := time.Since(time.Unix(0, lastTick.Load())); since > stall {
					return fmt.Errorf("no tick for %s", since.Round(time.Millisecond))
				}
				return nil
			},
		}
		g.Go(func() error { return admin.Serve(gctx, cfg.Admin.Address) })
	}

	go server.AcceptLoop()
	g.Go(func() error {
		<-gctx.Done()
		server.Shutdown()
		return nil
	})
	g.Go(func() error { return reloadOnHangup(gctx, scripts, log) })
	g.Go(func() error { return loop.Run(gctx) })

	log.Info("伺服器就緒",
		zap.Stringer("addr", server.Addr()),
		zap.Duration("tick", cfg.Network.TickRate),
	)
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("發生錯誤，開始關閉", zap.Error(err))
	}

	// The loop has stopped; nothing else touches the world now.
	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := set.Persist.SaveAll(saveCtx); serr != nil {
		log.Error("關閉前存檔", zap.Error(serr))
	}
	if cerr := queue.Close(saveCtx); cerr != nil {
		log.Error("清空指令佇列", zap.Error(cerr))
	}
	log.Info("伺服器已停止", zap.Uint64("ticks", loop.Current()))
	return err
}

// reloadOnHangup recompiles the script directory on every SIGHUP. A
// broken script set is refused and the running one stays.
func reloadOnHangup(ctx context.Context, scripts *scripting.Engine, log *zap.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			version, err := scripts.Reload()
			if err != nil {
				log.Warn("腳本重新載入被拒", zap.Uint64("version", version), zap.Error(err))
				continue
			}
			log.Info("腳本已重新載入", zap.Uint64("version", version))
		}
	}
}
