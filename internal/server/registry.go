// Package server accepts wireless serial connections and fans the sentence
// feed out to them.
//
// Registry owns the set of live connections and the sensor it powers: the
// sensor is started when the set goes from empty to one member and stopped
// when it becomes empty again. Membership changes, the start/stop decision
// and broadcasts all run under one lock.
package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"gpsblue-ng/internal/bluetooth"
)

// Sensor is switched on while at least one connection is registered.
type Sensor interface {
	Start() error
	Stop()
}

// CountFunc observes the live connection count. It is called with the
// registry lock held and must not block.
type CountFunc func(id uuid.UUID, count int)

type Registry struct {
	// sem is the registry lock. A weighted semaphore of size one lets
	// Broadcast give up when its context is cancelled.
	sem     *semaphore.Weighted
	sensor  Sensor
	onCount CountFunc
	log     zerolog.Logger

	// Guarded by sem.
	conns  map[*Conn]struct{}
	id     uuid.UUID
	closed bool

	count  atomic.Int64
	nextID atomic.Uint64
	wg     sync.WaitGroup
}

func NewRegistry(sensor Sensor, onCount CountFunc) *Registry {
	return &Registry{
		sem:     semaphore.NewWeighted(1),
		sensor:  sensor,
		onCount: onCount,
		log:     log.With().Str("module", "server").Logger(),
		conns:   make(map[*Conn]struct{}),
	}
}

func (r *Registry) lock() {
	// Background never cancels, so Acquire cannot fail.
	_ = r.sem.Acquire(context.Background(), 1)
}

func (r *Registry) unlock() {
	r.sem.Release(1)
}

// Go registers rwc and serves it on its own goroutine until the peer goes
// away, a write fails or CloseAll is called.
func (r *Registry) Go(rwc bluetooth.Conn) *Conn {
	c := newConn(r.nextID.Add(1), rwc, r.log)
	r.wg.Add(1)
	go r.serve(c)
	return c
}

func (r *Registry) serve(c *Conn) {
	defer r.wg.Done()
	if !r.add(c) {
		c.close()
		return
	}
	c.log.Info().Msg("connection accepted")

	err := c.drain()

	r.remove(c)
	info := c.Info()
	c.log.Info().
		AnErr("reason", err).
		Uint64("bytes_in", info.BytesIn).
		Uint64("bytes_out", info.BytesOut).
		Msg("connection closed")
}

func (r *Registry) add(c *Conn) bool {
	r.lock()
	defer r.unlock()
	if r.closed {
		return false
	}
	if len(r.conns) == 0 && r.sensor != nil {
		if err := r.sensor.Start(); err != nil {
			// Reported upward by the sensor; the connection stays open.
			r.log.Error().Err(err).Msg("sensor start failed")
		}
	}
	r.conns[c] = struct{}{}
	r.countChangedLocked()
	return true
}

func (r *Registry) remove(c *Conn) {
	r.lock()
	defer r.unlock()
	c.close()
	if _, ok := r.conns[c]; !ok {
		return
	}
	delete(r.conns, c)
	r.countChangedLocked()
	if len(r.conns) == 0 && r.sensor != nil {
		r.sensor.Stop()
	}
}

func (r *Registry) countChangedLocked() {
	n := len(r.conns)
	r.count.Store(int64(n))
	if r.onCount != nil {
		r.onCount(r.id, n)
	}
}

// Broadcast writes p to every registered connection that has not failed and
// returns how many writes succeeded. It holds the lock for the whole fan-out
// and returns ctx.Err() if the lock could not be taken before ctx ended.
func (r *Registry) Broadcast(ctx context.Context, p []byte) (int, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer r.unlock()
	sent := 0
	for c := range r.conns {
		if c.Failed() {
			continue
		}
		if err := c.write(p); err == nil {
			sent++
		}
	}
	return sent, nil
}

// Reopen accepts registrations again after CloseAll and announces an empty
// registry for id.
func (r *Registry) Reopen(id uuid.UUID) {
	r.lock()
	defer r.unlock()
	r.closed = false
	r.id = id
	r.countChangedLocked()
}

// CloseAll refuses further registrations and closes every connection. Their
// handlers unregister themselves; Wait blocks until they have.
func (r *Registry) CloseAll() {
	r.lock()
	defer r.unlock()
	r.closed = true
	for c := range r.conns {
		c.close()
	}
}

// Wait blocks until every handler started by Go has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Conns describes the live connections.
func (r *Registry) Conns() []ConnInfo {
	r.lock()
	defer r.unlock()
	out := make([]ConnInfo, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c.Info())
	}
	return out
}
