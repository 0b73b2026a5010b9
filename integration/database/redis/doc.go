// Package redis connects to Redis and provides a pub/sub transport for
// proxies that share certificates across hosts.
//
// Connect parses a redis:// or rediss:// URL, pings the server with
// exponential backoff and returns a ready *redis.Client. Healthcheck wraps a
// ping for readiness probes.
//
// Channel implements cluster.Channel on a pub/sub topic:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	ch, err := redis.NewChannel(ctx, client, cfg.ClusterTopic)
//	if err != nil {
//		return err
//	}
//	node := cluster.NewNode(hostID, ch,
//		cluster.WithCertificateSink(store.Apply),
//		cluster.WithChallengeSink(challenges),
//	)
//
// Every subscriber receives every message including its own, so a
// certificate issued on one host is installed on all of them.
package redis
