// Package supervisor keeps a fixed number of server replicas running. The
// primary process re-executes its own binary once per replica; replicas share
// the listening port via SO_REUSEPORT. Any replica that exits, for any
// reason, is replaced immediately — there is no backoff or crash-loop
// detection, so a persistently failing replica will spin. Each replica owns
// fully independent in-memory state: clients in the same room that land on
// different replicas do not see each other's messages. Single-replica
// semantics are authoritative; replication is a load-sharing deployment mode.
package supervisor

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// workerEnv marks a process as a supervised replica rather than the primary.
const workerEnv = "ROOMCAST_WORKER"

// IsWorker reports whether this process was forked by a supervisor.
func IsWorker() bool {
	return os.Getenv(workerEnv) == "1"
}

// ResolveCount turns the configured cluster worker setting into a replica
// count: "auto" (or anything unparsable) means one replica per logical CPU.
// Platforms without port sharing always get one replica.
func ResolveCount(setting string, portSharing bool) int {
	if !portSharing {
		return 1
	}
	if setting == "" || setting == "auto" {
		return runtime.NumCPU()
	}
	n, err := strconv.Atoi(setting)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// Supervisor forks and restarts server replicas.
type Supervisor struct {
	log   zerolog.Logger
	count int

	mu       sync.Mutex
	procs    map[int]*os.Process
	stopping bool
	wg       sync.WaitGroup
}

// New creates a supervisor for the given replica count.
func New(count int, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		log:   log,
		count: count,
		procs: make(map[int]*os.Process),
	}
}

// Run forks the replicas and supervises them until the context is cancelled,
// then forwards SIGTERM to every child and waits for them to exit.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info().Int("workers", s.count).Msg("starting cluster")

	for i := 0; i < s.count; i++ {
		if err := s.fork(); err != nil {
			return err
		}
	}

	<-ctx.Done()

	s.mu.Lock()
	s.stopping = true
	for pid, proc := range s.procs {
		s.log.Info().Int("pid", pid).Msg("signalling worker to stop")
		proc.Signal(syscall.SIGTERM)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// fork starts one replica: the same binary with the same arguments, marked by
// the worker environment variable.
func (s *Supervisor) fork() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), workerEnv+"=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	pid := cmd.Process.Pid
	s.mu.Lock()
	s.procs[pid] = cmd.Process
	s.mu.Unlock()

	s.log.Info().Int("pid", pid).Msg("worker started")

	s.wg.Add(1)
	go s.monitor(cmd)
	return nil
}

// monitor waits for one replica and, unless the supervisor is stopping,
// replaces it immediately on exit.
func (s *Supervisor) monitor(cmd *exec.Cmd) {
	defer s.wg.Done()

	err := cmd.Wait()
	pid := cmd.Process.Pid

	exitCode := 0
	signal := ""
	if state := cmd.ProcessState; state != nil {
		exitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			signal = ws.Signal().String()
		}
	}

	s.mu.Lock()
	delete(s.procs, pid)
	stopping := s.stopping
	s.mu.Unlock()

	if stopping {
		s.log.Info().Int("pid", pid).Msg("worker stopped")
		return
	}

	s.log.Warn().
		Int("pid", pid).
		Int("exit_code", exitCode).
		Str("signal", signal).
		Err(err).
		Msg("worker exited")
	s.log.Info().Msg("restarting worker")

	if err := s.fork(); err != nil {
		s.log.Error().Err(err).Msg("failed to restart worker")
	}
}
