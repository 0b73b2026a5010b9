package cluster

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/rproxy/core/letsencrypt"
	"github.com/dmitrymomot/rproxy/core/logger"
	"github.com/dmitrymomot/rproxy/core/statistics"
)

// Worker count bounds.
const (
	MinWorkers = 2
	MaxWorkers = 32
)

// Config holds master settings.
type Config struct {
	// Workers is the number of worker processes. Zero means one per CPU.
	Workers int `env:"CLUSTER_WORKERS" envDefault:"0"`

	// RestartDelay is the pause before a crashed worker is respawned.
	RestartDelay time.Duration `env:"CLUSTER_RESTART_DELAY" envDefault:"1s"`

	// ShutdownTimeout bounds how long workers get to exit after SIGTERM.
	ShutdownTimeout time.Duration `env:"CLUSTER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// WorkerCount resolves the number of workers to fork.
func (c Config) WorkerCount() int {
	n := c.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return min(max(n, MinWorkers), MaxWorkers)
}

type workerState struct {
	proc          Process
	disconnecting bool
}

// Coordinator is the master: it forks workers, restarts them when they crash,
// aggregates their statistics and relays certificate and challenge messages
// to every worker.
type Coordinator struct {
	cfg     Config
	spawner Spawner
	counter *statistics.Counter
	logger  *slog.Logger

	mu         sync.RWMutex
	workers    map[string]*workerState
	challenges map[string]Message
	online     chan string
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOnlineNotify receives the id of every worker that reports online.
// Sends are dropped when ch is full.
func WithOnlineNotify(ch chan string) CoordinatorOption {
	return func(c *Coordinator) {
		c.online = ch
	}
}

// NewCoordinator creates a master. counter receives worker statistics.
func NewCoordinator(cfg Config, spawner Spawner, counter *statistics.Counter, opts ...CoordinatorOption) (*Coordinator, error) {
	if spawner == nil {
		return nil, ErrNoSpawner
	}
	if counter == nil {
		counter = statistics.New()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	c := &Coordinator{
		cfg:        cfg,
		spawner:    spawner,
		counter:    counter,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers:    make(map[string]*workerState),
		challenges: make(map[string]Message),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("cluster"))
	return c, nil
}

// Counter returns the aggregate statistics table.
func (c *Coordinator) Counter() *statistics.Counter {
	return c.counter
}

// Workers returns the ids of running workers.
func (c *Coordinator) Workers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.workers))
	for id := range c.workers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Run forks the workers and supervises them until ctx is cancelled, then
// asks every worker to stop and waits for them.
func (c *Coordinator) Run(ctx context.Context) error {
	n := c.cfg.WorkerCount()
	c.logger.InfoContext(ctx, "starting workers", logger.Count("workers", n))

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= n; i++ {
		id := strconv.Itoa(i)
		g.Go(func() error {
			c.supervise(gctx, id)
			return nil
		})
	}
	return g.Wait()
}

// supervise keeps one worker slot filled.
func (c *Coordinator) supervise(ctx context.Context, id string) {
	log := c.logger.With(logger.WorkerID(id))

	for {
		if ctx.Err() != nil {
			return
		}

		proc, err := c.spawner.Spawn(ctx, id)
		if err != nil {
			log.Error("failed to spawn worker", logger.Error(err))
			if !c.wait(ctx, c.cfg.RestartDelay) {
				return
			}
			continue
		}
		log.Info("worker started", logger.PID(proc.PID()))

		state := &workerState{proc: proc}
		c.mu.Lock()
		c.workers[id] = state
		c.mu.Unlock()

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for msg := range proc.Channel().Receive() {
				c.handle(ctx, id, msg)
			}
		}()

		exit := c.waitExit(ctx, id, proc)
		_ = proc.Channel().Close()
		<-readDone

		c.mu.Lock()
		delete(c.workers, id)
		deliberate := state.disconnecting
		c.mu.Unlock()
		c.dropChallenges(ctx, id)

		log.Info("worker exited",
			slog.Int("code", exit.Code),
			slog.String("signal", signalName(exit.Signal)),
			logger.Error(exit.Err),
		)

		if ctx.Err() != nil || deliberate || exit.Killed() {
			return
		}
		log.Warn("restarting worker", logger.Duration(c.cfg.RestartDelay))
		if !c.wait(ctx, c.cfg.RestartDelay) {
			return
		}
	}
}

// waitExit waits for proc, stopping it with SIGTERM (then SIGKILL after
// ShutdownTimeout) when ctx ends first.
func (c *Coordinator) waitExit(ctx context.Context, id string, proc Process) Exit {
	done := make(chan Exit, 1)
	go func() { done <- proc.Wait() }()

	select {
	case exit := <-done:
		return exit
	case <-ctx.Done():
	}

	c.markDisconnecting(id)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		c.logger.Debug("failed to signal worker", logger.WorkerID(id), logger.Error(err))
	}

	timer := time.NewTimer(c.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case exit := <-done:
		return exit
	case <-timer.C:
		c.logger.Warn("worker did not stop in time, killing", logger.WorkerID(id))
		_ = proc.Kill()
		return <-done
	}
}

func (c *Coordinator) markDisconnecting(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[id]; ok {
		w.disconnecting = true
	}
}

// handle applies statistics to the aggregate and relays everything else.
func (c *Coordinator) handle(ctx context.Context, from string, msg Message) {
	if msg.WorkerID == "" {
		msg.WorkerID = from
	}

	switch msg.MessageType {
	case TypeStatistics:
		c.counter.UpdateCount(ctx, msg.Name, msg.Delta, msg.WorkerID)

	case TypeControl:
		switch msg.Action {
		case ActionOnline:
			c.logger.Info("worker online", logger.WorkerID(from))
			c.replayChallenges(ctx, from)
			if c.online != nil {
				select {
				case c.online <- from:
				default:
				}
			}
		case ActionDisconnect:
			c.markDisconnecting(from)
		}

	case TypeLetsEncrypt:
		c.trackChallenge(msg)
		c.Broadcast(ctx, msg)

	case TypeCertificate:
		c.Broadcast(ctx, msg)

	default:
		c.logger.Warn("dropping unknown message", logger.Type(string(msg.MessageType)), logger.WorkerID(from))
	}
}

func (c *Coordinator) trackChallenge(msg Message) {
	key := msg.Host + msg.Token
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case ActionAddChallenge:
		c.challenges[key] = msg
	case ActionRemoveChallenge:
		delete(c.challenges, key)
	}
}

// dropChallenges forgets the challenges an exited worker presented and tells
// the remaining workers to remove them.
func (c *Coordinator) dropChallenges(ctx context.Context, id string) {
	var dropped []Message
	c.mu.Lock()
	for key, m := range c.challenges {
		if m.WorkerID == id {
			dropped = append(dropped, m)
			delete(c.challenges, key)
		}
	}
	c.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	for _, m := range dropped {
		c.Broadcast(ctx, ChallengeMessage(id, ActionRemoveChallenge, letsencrypt.Challenge{Host: m.Host, Token: m.Token}))
	}
}

// replayChallenges sends the outstanding challenges to a (re)started worker.
func (c *Coordinator) replayChallenges(ctx context.Context, id string) {
	c.mu.RLock()
	w, ok := c.workers[id]
	pending := make([]Message, 0, len(c.challenges))
	for _, m := range c.challenges {
		pending = append(pending, m)
	}
	c.mu.RUnlock()

	if !ok {
		return
	}
	for _, m := range pending {
		if err := w.proc.Channel().Send(ctx, m); err != nil {
			c.logger.Warn("failed to replay challenge", logger.WorkerID(id), logger.Error(err))
		}
	}
}

// Broadcast sends msg to every running worker, including its sender.
func (c *Coordinator) Broadcast(ctx context.Context, msg Message) {
	c.mu.RLock()
	targets := make(map[string]Channel, len(c.workers))
	for id, w := range c.workers {
		targets[id] = w.proc.Channel()
	}
	c.mu.RUnlock()

	for id, ch := range targets {
		if err := ch.Send(ctx, msg); err != nil {
			c.logger.Warn("failed to relay message",
				logger.WorkerID(id),
				logger.Type(string(msg.MessageType)),
				logger.Action(msg.Action),
				logger.Error(err),
			)
		}
	}
}

func (c *Coordinator) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func signalName(sig syscall.Signal) string {
	if sig == 0 {
		return ""
	}
	return sig.String()
}
