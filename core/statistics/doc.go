// Package statistics keeps named event counters per worker.
//
// In a cluster worker, UpdateCount forwards every change to the master
// through a Forwarder and never touches local state. The aggregating process
// (the master, or the only process) increments the entry keyed
// "workerID:name". Counters are never reset; GetTable returns a snapshot.
//
// NewCollector exposes the table to Prometheus:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(statistics.NewCollector(counter))
//	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package statistics
