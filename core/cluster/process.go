package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// WorkerEnv names the environment variable carrying a worker's id.
const WorkerEnv = "RPROXY_WORKER_ID"

// Worker pipe descriptors inherited from the master.
const (
	workerInFD  = 3
	workerOutFD = 4
)

// Exit describes how a worker process ended.
type Exit struct {
	Code   int
	Signal syscall.Signal
	Err    error
}

// Killed reports whether the process was terminated with SIGKILL.
func (e Exit) Killed() bool {
	return e.Signal == syscall.SIGKILL
}

// Process is a running worker as seen by the master.
type Process interface {
	ID() string
	PID() int
	Channel() Channel
	Signal(sig os.Signal) error
	Kill() error
	// Wait blocks until the process exits. It is called once.
	Wait() Exit
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, workerID string) (Process, error)
}

// ExecSpawner re-executes a binary as a worker, passing the worker id in
// WorkerEnv and the message pipe as file descriptors 3 (in) and 4 (out).
type ExecSpawner struct {
	Path   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// NewExecSpawner re-executes the running binary with its own arguments.
func NewExecSpawner(log *slog.Logger) (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecSpawner{
		Path:   path,
		Args:   os.Args[1:],
		Env:    os.Environ(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: log,
	}, nil
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(_ context.Context, workerID string) (Process, error) {
	childIn, parentOut, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create worker input pipe: %w", err)
	}
	parentIn, childOut, err := os.Pipe()
	if err != nil {
		_ = childIn.Close()
		_ = parentOut.Close()
		return nil, fmt.Errorf("create worker output pipe: %w", err)
	}

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(append([]string{}, s.Env...), WorkerEnv+"="+workerID)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.ExtraFiles = []*os.File{childIn, childOut}

	startErr := cmd.Start()
	// The child holds its own copies now.
	_ = childIn.Close()
	_ = childOut.Close()
	if startErr != nil {
		_ = parentIn.Close()
		_ = parentOut.Close()
		return nil, fmt.Errorf("start worker %s: %w", workerID, startErr)
	}

	return &execProcess{
		id:  workerID,
		cmd: cmd,
		ch:  NewStreamChannel(parentIn, parentOut, s.Logger),
	}, nil
}

type execProcess struct {
	id  string
	cmd *exec.Cmd
	ch  *StreamChannel
}

func (p *execProcess) ID() string                 { return p.id }
func (p *execProcess) PID() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Channel() Channel           { return p.ch }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Kill() error                { return p.cmd.Process.Kill() }

func (p *execProcess) Wait() Exit {
	err := p.cmd.Wait()
	_ = p.ch.Close()

	exit := Exit{Err: err}
	if st := p.cmd.ProcessState; st != nil {
		exit.Code = st.ExitCode()
		if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			exit.Signal = ws.Signal()
		}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exit.Err = nil
	}
	return exit
}

// WorkerID returns this process's worker id when it was spawned by a master.
func WorkerID() (string, bool) {
	id := os.Getenv(WorkerEnv)
	return id, id != ""
}

// WorkerChannel opens the message pipe inherited from the master.
func WorkerChannel(log *slog.Logger) (*StreamChannel, error) {
	if _, ok := WorkerID(); !ok {
		return nil, ErrNotWorker
	}
	in := os.NewFile(workerInFD, "cluster-in")
	out := os.NewFile(workerOutFD, "cluster-out")
	if in == nil || out == nil {
		return nil, fmt.Errorf("%w: message pipe not inherited", ErrNotWorker)
	}
	return NewStreamChannel(in, out, log), nil
}
