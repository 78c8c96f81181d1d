// Package supervisor wires a ring engine's maintenance tasks (stabilize,
// fix-fingers) and the transport listener into a single lifecycle, each
// running on its own ticker loop alongside the server.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chordkv/internal/config"
	"chordkv/internal/ring"
	"chordkv/internal/transport"
)

// Supervisor owns the background lifetime of a running peer: the
// listener goroutine and the periodic stabilize/fix-fingers tasks.
// There is no graceful shutdown protocol: Stop cancels the maintenance
// loops and closes the listener; in-flight handlers are abandoned.
type Supervisor struct {
	cfg    config.Config
	engine *ring.Engine
	server *transport.Server
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Supervisor for the given engine and server.
func New(cfg config.Config, engine *ring.Engine, server *transport.Server, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, engine: engine, server: server, logger: logger}
}

// Start launches the listener and the maintenance tasks.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go s.serve(ctx)
	go s.stabilizeLoop(ctx)
	go s.fixFingersLoop(ctx)

	return nil
}

func (s *Supervisor) serve(ctx context.Context) {
	defer s.wg.Done()
	if err := s.server.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("listener stopped", "error", err)
	}
}

func (s *Supervisor) stabilizeLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(jitter(s.cfg.StabilizeInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runGuarded("stabilize", func(opCtx context.Context) {
				s.engine.Stabilize(opCtx)
			})
		}
	}
}

func (s *Supervisor) fixFingersLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(jitter(s.cfg.FixFingersInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runGuarded("fix-fingers", func(opCtx context.Context) {
				s.engine.FixNextFinger(opCtx)
				s.engine.RefreshFingerTableIfDue(opCtx, s.cfg.RefreshInterval)
			})
		}
	}
}

// runGuarded bounds a maintenance op with the handler deadline and
// recovers from panics so one bad round never kills the loop.
func (s *Supervisor) runGuarded(name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("maintenance task panicked", "task", name, "recover", r)
		}
	}()

	opCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HandlerDeadline)
	defer cancel()
	fn(opCtx)
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	spread := base / 5
	if spread <= 0 {
		return base
	}
	return base - spread/2 + time.Duration(rand.Int64N(int64(spread)+1))
}

// Stop cancels the maintenance tasks and closes the listener, then
// waits for all background goroutines to exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.server.Close()
	s.wg.Wait()
}

// WaitForSignal blocks until SIGINT/SIGTERM or ctx is done, then stops
// the supervisor.
func (s *Supervisor) WaitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}
	s.Stop()
}
