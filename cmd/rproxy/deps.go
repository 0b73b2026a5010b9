package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/rproxy/core/certstore"
	"github.com/dmitrymomot/rproxy/core/cluster"
	"github.com/dmitrymomot/rproxy/core/config"
	"github.com/dmitrymomot/rproxy/core/letsencrypt"
	"github.com/dmitrymomot/rproxy/integration/database/redis"
	"github.com/dmitrymomot/rproxy/integration/dns/route53"
	"github.com/dmitrymomot/rproxy/integration/storage/s3"
)

var (
	errUnknownBackend     = errors.New("unknown certificate backend")
	errUnknownDNSProvider = errors.New("unknown dns provider")
	errUnknownTransport   = errors.New("unknown transport")
)

// deps holds the certificate machinery shared by the proxy and the cluster node.
type deps struct {
	store      *certstore.Store
	challenges *letsencrypt.ChallengeTable
	manager    *letsencrypt.Manager
	closers    []func() error
}

func openStore(ctx context.Context, cfg appConfig, log *slog.Logger) (*deps, error) {
	var backend certstore.Backend
	switch cfg.CertBackend {
	case backendFile, "":
		fb, err := certstore.NewFileBackend(cfg.CertDir)
		if err != nil {
			return nil, err
		}
		backend = fb
	case backendS3:
		var scfg s3.Config
		if err := config.Load(&scfg); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
		defer cancel()
		sb, err := s3.New(ctx, scfg)
		if err != nil {
			return nil, err
		}
		backend = sb
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBackend, cfg.CertBackend)
	}

	return &deps{
		store:      certstore.New(certstore.WithBackend(backend), certstore.WithLogger(log)),
		challenges: letsencrypt.NewChallengeTable(),
	}, nil
}

// join links the store to the cluster: new certificates go out through the
// node and broadcast ones come back into the store.
func (d *deps) join(id string, ch cluster.Channel, log *slog.Logger) *cluster.Node {
	node := cluster.NewNode(id, ch,
		cluster.WithCertificateSink(d.store.Apply),
		cluster.WithChallengeSink(d.challenges),
		cluster.WithNodeLogger(log),
	)
	d.store.SetPropagator(node)
	return node
}

// startManager creates the certificate manager when ACME is enabled. A
// worker gets a private responder port since workers share the listeners.
func (d *deps) startManager(ctx context.Context, cfg appConfig, node *cluster.Node, worker bool, log *slog.Logger) error {
	if !cfg.LetsEncrypt {
		return nil
	}

	var lcfg letsencrypt.Config
	if err := config.Load(&lcfg); err != nil {
		return err
	}
	if worker {
		lcfg.ResponderAddr = "127.0.0.1:0"
	}

	opts := []letsencrypt.ManagerOption{
		letsencrypt.WithChallengeTable(d.challenges),
		letsencrypt.WithLogger(log),
	}
	if node != nil {
		opts = append(opts, letsencrypt.WithWorker(node))
	}

	switch cfg.DNSProvider {
	case "":
	case "route53":
		var rcfg route53.Config
		if err := config.Load(&rcfg); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
		defer cancel()
		provider, err := route53.New(ctx, rcfg, route53.WithLogger(log))
		if err != nil {
			return err
		}
		opts = append(opts, letsencrypt.WithDNSProvider(provider))
	default:
		return fmt.Errorf("%w: %q", errUnknownDNSProvider, cfg.DNSProvider)
	}

	m, err := letsencrypt.NewManager(d.store, lcfg, opts...)
	if err != nil {
		return err
	}
	d.manager = m
	d.closers = append(d.closers, m.Close)
	return nil
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

// openTransport connects the channel linking standalone proxies. The
// returned check probes the transport for readiness.
func openTransport(ctx context.Context, cfg appConfig, log *slog.Logger) (cluster.Channel, func(context.Context) error, error) {
	if cfg.Transport != transportRedis {
		return nil, nil, fmt.Errorf("%w: %q", errUnknownTransport, cfg.Transport)
	}

	var rcfg redis.Config
	if err := config.Load(&rcfg); err != nil {
		return nil, nil, err
	}
	client, err := redis.Connect(ctx, rcfg)
	if err != nil {
		return nil, nil, err
	}
	ch, err := redis.NewChannel(ctx, client, rcfg.ClusterTopic, redis.WithLogger(log))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return &ownedChannel{Channel: ch, close: client.Close}, redis.Healthcheck(client), nil
}

// ownedChannel closes the Redis client along with the channel.
type ownedChannel struct {
	cluster.Channel
	close func() error
}

func (c *ownedChannel) Close() error {
	return errors.Join(c.Channel.Close(), c.close())
}
