// Package cluster runs the proxy as one master and several worker
// processes connected in a star.
//
// The master forks workers with ExecSpawner, restarts them when they crash
// and aggregates their statistics. Workers talk to the master over a
// Channel of JSON messages on inherited file descriptors. Certificates and
// http-01 challenges produced by any worker are sent to the master, which
// rebroadcasts them to every worker including the sender, so all workers
// converge on the same state.
//
// Master side:
//
//	spawner, _ := cluster.NewExecSpawner(log)
//	coord, _ := cluster.NewCoordinator(cfg, spawner, statistics.New(), cluster.WithLogger(log))
//	err := coord.Run(ctx)
//
// Worker side:
//
//	ch, _ := cluster.WorkerChannel(log)
//	node := cluster.NewNode(id, ch,
//		cluster.WithCertificateSink(store.Apply),
//		cluster.WithChallengeSink(table),
//	)
//	store.SetPropagator(node)
//	go node.Run(ctx)
package cluster
