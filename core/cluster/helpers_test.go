package cluster_test

import (
	"context"
	"os"
	"sync"
	"syscall"

	"github.com/dmitrymomot/rproxy/core/cluster"
	"github.com/dmitrymomot/rproxy/core/letsencrypt"
)

type certRecorder struct {
	mu    sync.Mutex
	certs map[string]string
}

func (r *certRecorder) apply(host string, _, cert, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.certs == nil {
		r.certs = make(map[string]string)
	}
	r.certs[host] = string(cert)
	return nil
}

func (r *certRecorder) get(host string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[host]
	return c, ok
}

type fakeWorker struct {
	id     string
	pid    int
	master *cluster.MemoryChannel
	node   *cluster.Node
	table  *letsencrypt.ChallengeTable
	certs  *certRecorder

	exit   chan cluster.Exit
	once   sync.Once
	signal chan os.Signal
}

func (w *fakeWorker) ID() string               { return w.id }
func (w *fakeWorker) PID() int                 { return w.pid }
func (w *fakeWorker) Channel() cluster.Channel { return w.master }
func (w *fakeWorker) Wait() cluster.Exit       { return <-w.exit }

func (w *fakeWorker) Signal(sig os.Signal) error {
	select {
	case w.signal <- sig:
	default:
	}
	s, _ := sig.(syscall.Signal)
	w.finish(cluster.Exit{Signal: s})
	return nil
}

func (w *fakeWorker) Kill() error {
	w.finish(cluster.Exit{Signal: syscall.SIGKILL})
	return nil
}

func (w *fakeWorker) crash(code int) {
	w.finish(cluster.Exit{Code: code})
}

func (w *fakeWorker) finish(e cluster.Exit) {
	w.once.Do(func() { w.exit <- e })
}

// fakeSpawner starts in-process nodes connected through memory pipes.
type fakeSpawner struct {
	ctx context.Context

	mu      sync.Mutex
	pid     int
	spawns  map[string]int
	workers map[string]*fakeWorker
}

func newFakeSpawner(ctx context.Context) *fakeSpawner {
	return &fakeSpawner{
		ctx:     ctx,
		spawns:  make(map[string]int),
		workers: make(map[string]*fakeWorker),
	}
}

func (s *fakeSpawner) Spawn(_ context.Context, id string) (cluster.Process, error) {
	master, worker := cluster.NewMemoryPipe(0)

	s.mu.Lock()
	s.pid++
	w := &fakeWorker{
		id:     id,
		pid:    1000 + s.pid,
		master: master,
		table:  letsencrypt.NewChallengeTable(),
		certs:  &certRecorder{},
		exit:   make(chan cluster.Exit, 1),
		signal: make(chan os.Signal, 1),
	}
	w.node = cluster.NewNode(id, worker,
		cluster.WithCertificateSink(w.certs.apply),
		cluster.WithChallengeSink(w.table),
	)
	s.spawns[id]++
	s.workers[id] = w
	s.mu.Unlock()

	go func() { _ = w.node.Run(s.ctx) }()
	return w, nil
}

func (s *fakeSpawner) worker(id string) *fakeWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers[id]
}

func (s *fakeSpawner) spawnCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns[id]
}
