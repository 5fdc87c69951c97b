package server

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gpsblue-ng/internal/bluetooth"
)

// FatalFunc reports a non-retryable failure as a (title, message) pair.
type FatalFunc func(title, message string)

// Acceptor listens on one service identifier at a time and hands every
// accepted connection to the registry.
type Acceptor struct {
	listen  bluetooth.ListenFunc
	reg     *Registry
	onFatal FatalFunc
	log     zerolog.Logger

	mu  sync.Mutex
	run *acceptRun
}

type acceptRun struct {
	id   uuid.UUID
	ln   bluetooth.Listener
	stop atomic.Bool
	done chan struct{}
}

func NewAcceptor(listen bluetooth.ListenFunc, reg *Registry, onFatal FatalFunc) *Acceptor {
	return &Acceptor{
		listen:  listen,
		reg:     reg,
		onFatal: onFatal,
		log:     log.With().Str("module", "acceptor").Logger(),
	}
}

// Startup listens on id. It is a no-op while already listening on id;
// otherwise any previous listener is shut down, dropping its connections,
// before the new one is opened. Listen errors are returned, not reported.
func (a *Acceptor) Startup(id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.run != nil && a.run.id == id && !a.run.exited() {
		return nil
	}
	a.shutdownLocked()

	ln, err := a.listen(id)
	if err != nil {
		a.log.Error().Err(err).Str("uuid", id.String()).Msg("listen failed")
		return err
	}
	a.reg.Reopen(id)

	run := &acceptRun{id: id, ln: ln, done: make(chan struct{})}
	a.run = run
	go a.acceptLoop(run)
	a.log.Info().Str("uuid", id.String()).Msg("listening")
	return nil
}

func (a *Acceptor) acceptLoop(run *acceptRun) {
	defer close(run.done)
	for {
		rwc, err := run.ln.Accept()
		if err != nil {
			_ = run.ln.Close()
			if run.stop.Load() {
				return
			}
			err = fmt.Errorf("%w: %v", ErrAcceptFailure, err)
			a.log.Error().Err(err).Str("uuid", run.id.String()).Msg("accept loop terminated")
			if a.onFatal != nil {
				a.onFatal("Bluetooth Error", "try starting bluetooth\nor try different UUID\n\n"+err.Error())
			}
			return
		}
		a.reg.Go(rwc)
	}
}

// Shutdown closes the listener, waits for the accept loop, then closes every
// registered connection and waits for their handlers. Idempotent.
func (a *Acceptor) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

func (a *Acceptor) shutdownLocked() {
	if a.run != nil {
		run := a.run
		a.run = nil
		run.stop.Store(true)
		_ = run.ln.Close()
		<-run.done
		a.log.Info().Str("uuid", run.id.String()).Msg("listener closed")
	}
	a.reg.CloseAll()
	a.reg.Wait()
}

// Listening reports the identifier currently served, if any.
func (a *Acceptor) Listening() (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run == nil || a.run.exited() {
		return uuid.Nil, false
	}
	return a.run.id, true
}

func (r *acceptRun) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
