package cluster

import "errors"

var (
	// ErrChannelClosed is returned when sending on a closed channel.
	ErrChannelClosed = errors.New("cluster channel is closed")

	// ErrBufferFull is returned when an in-memory channel cannot accept more messages.
	ErrBufferFull = errors.New("cluster channel buffer is full")

	// ErrNotWorker is returned when worker plumbing is requested outside a worker process.
	ErrNotWorker = errors.New("not running as a cluster worker")

	// ErrNoSpawner is returned when a coordinator is built without a spawner.
	ErrNoSpawner = errors.New("worker spawner is required")
)
