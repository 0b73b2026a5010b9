// Command rproxy runs the multi-tenant reverse proxy.
//
// Without RPROXY_CLUSTER it serves in a single process. With it, the process
// becomes a master that forks workers (re-executions of this binary) and
// relays certificates, challenges and statistics between them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/rproxy/core/cluster"
	"github.com/dmitrymomot/rproxy/core/config"
	"github.com/dmitrymomot/rproxy/core/logger"
	"github.com/dmitrymomot/rproxy/core/proxy"
	"github.com/dmitrymomot/rproxy/core/server"
	"github.com/dmitrymomot/rproxy/core/statistics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "rproxy:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}
	log := newLogger(cfg)

	if id, ok := cluster.WorkerID(); ok {
		return runWorker(ctx, cfg, id, log.With(logger.WorkerID(id)))
	}
	if cfg.Cluster {
		return runMaster(ctx, log.With(logger.WorkerID("master")))
	}
	return runStandalone(ctx, cfg, log)
}

func newLogger(cfg appConfig) *slog.Logger {
	opts := []logger.Option{
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithAttr(logger.PID(os.Getpid())),
	}
	if cfg.LogFormat == "json" {
		opts = append(opts, logger.WithJSONFormatter())
	}
	return logger.New(opts...)
}

// runMaster supervises the workers and serves the aggregated statistics.
func runMaster(ctx context.Context, log *slog.Logger) error {
	var ccfg cluster.Config
	if err := config.Load(&ccfg); err != nil {
		return err
	}
	var pcfg proxy.Config
	if err := config.Load(&pcfg); err != nil {
		return err
	}

	spawner, err := cluster.NewExecSpawner(log)
	if err != nil {
		return err
	}
	counter := statistics.New(statistics.WithLogger(log))
	coord, err := cluster.NewCoordinator(ccfg, spawner, counter, cluster.WithLogger(log))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })
	if pcfg.MetricsAddr != "" {
		metrics := server.New(pcfg.MetricsAddr, server.WithName("metrics"), server.WithLogger(log))
		g.Go(metrics.Run(gctx, proxy.AdminHandler(counter, log)))
	}
	return g.Wait()
}

// runWorker serves traffic as one member of a master's pool.
func runWorker(ctx context.Context, cfg appConfig, id string, log *slog.Logger) error {
	ch, err := cluster.WorkerChannel(log)
	if err != nil {
		return err
	}
	defer ch.Close()

	pcfg, err := loadProxyConfig()
	if err != nil {
		return err
	}
	// Workers share the listeners; the master serves metrics.
	pcfg.ReusePort = true
	pcfg.MetricsAddr = ""

	d, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.close()

	node := d.join(id, ch, log)
	if err := d.startManager(ctx, cfg, node, true, log); err != nil {
		return err
	}
	counter := statistics.New(
		statistics.WithWorkerID(id),
		statistics.WithForwarder(node),
		statistics.WithLogger(log),
	)

	p, err := newProxy(cfg, pcfg, d, counter, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := node.Run(gctx)
		if errors.Is(err, cluster.ErrChannelClosed) {
			log.Warn("master link closed, exiting")
		}
		return err
	})
	g.Go(func() error { return p.Run(gctx) })
	return g.Wait()
}

// runStandalone serves traffic in a single process, optionally linked to
// proxies on other hosts through a shared transport.
func runStandalone(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pcfg, err := loadProxyConfig()
	if err != nil {
		return err
	}

	d, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.close()

	var (
		node   *cluster.Node
		checks []proxy.Option
	)
	if cfg.Transport != transportNone {
		ch, check, err := openTransport(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer ch.Close()
		host, _ := os.Hostname()
		node = d.join(fmt.Sprintf("%s-%d", host, os.Getpid()), ch, log)
		checks = append(checks, proxy.WithReadinessChecks(check))
	}
	if err := d.startManager(ctx, cfg, node, false, log); err != nil {
		return err
	}

	counter := statistics.New(statistics.WithLogger(log))
	p, err := newProxy(cfg, pcfg, d, counter, log, checks...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if node != nil {
		g.Go(func() error { return node.Run(gctx) })
	}
	g.Go(func() error { return p.Run(gctx) })
	return g.Wait()
}

func loadProxyConfig() (proxy.Config, error) {
	var pcfg proxy.Config
	if err := config.Load(&pcfg); err != nil {
		return proxy.Config{}, err
	}
	return pcfg, nil
}

// newProxy binds the listeners before registering routes so ACME
// validation can reach them.
func newProxy(cfg appConfig, pcfg proxy.Config, d *deps, counter *statistics.Counter, log *slog.Logger, extra ...proxy.Option) (*proxy.Server, error) {
	opts := append([]proxy.Option{
		proxy.WithLogger(log),
		proxy.WithCertStore(d.store),
		proxy.WithCounter(counter),
	}, extra...)
	if d.manager != nil {
		opts = append(opts, proxy.WithManager(d.manager))
	}
	p, err := proxy.New(pcfg, opts...)
	if err != nil {
		return nil, err
	}

	routes, err := loadRoutes(cfg.RoutesFile)
	if err == nil {
		err = p.Listen()
	}
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	n := applyRoutes(p, routes, log)
	log.Info("routes loaded", slog.String("file", cfg.RoutesFile), logger.Count("routes", n))
	return p, nil
}
