package server

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gpsblue-ng/internal/bluetooth"
)

var (
	// ErrWriteFailure marks a connection whose last broadcast write failed.
	ErrWriteFailure = errors.New("connection write failed")

	// ErrAcceptFailure is reported when the accept loop dies on its own.
	ErrAcceptFailure = errors.New("accept loop failed")
)

// Conn is one accepted connection. Once a write fails the connection is
// marked failed for good; it is torn down by its own handler, which is the
// only goroutine that closes it.
type Conn struct {
	id     uint64
	remote string
	rwc    bluetooth.Conn
	log    zerolog.Logger

	created time.Time

	failed    atomic.Bool
	closeOnce sync.Once

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

func newConn(id uint64, rwc bluetooth.Conn, log zerolog.Logger) *Conn {
	remote := bluetooth.RemoteName(rwc)
	return &Conn{
		id:      id,
		remote:  remote,
		rwc:     rwc,
		created: time.Now().UTC(),
		log:     log.With().Uint64("conn", id).Str("remote", remote).Logger(),
	}
}

// ConnInfo describes a live connection.
type ConnInfo struct {
	ID          uint64 `json:"id"`
	Remote      string `json:"remote"`
	ConnectedAt string `json:"connected_at"`
	BytesIn     uint64 `json:"bytes_in"`
	BytesOut    uint64 `json:"bytes_out"`
	Failed      bool   `json:"failed"`
}

func (c *Conn) Info() ConnInfo {
	return ConnInfo{
		ID:          c.id,
		Remote:      c.remote,
		ConnectedAt: c.created.Format(time.RFC3339),
		BytesIn:     c.bytesIn.Load(),
		BytesOut:    c.bytesOut.Load(),
		Failed:      c.failed.Load(),
	}
}

func (c *Conn) Failed() bool { return c.failed.Load() }

// write sends p unless the connection already failed. A failed write sets the
// sticky flag and nudges the reader awake where the transport allows it.
func (c *Conn) write(p []byte) error {
	if c.failed.Load() {
		return ErrWriteFailure
	}
	n, err := c.rwc.Write(p)
	c.bytesOut.Add(uint64(n))
	if err == nil {
		return nil
	}
	c.failed.Store(true)
	c.log.Warn().Err(err).Msg("write failed")
	if d, ok := c.rwc.(interface{ SetReadDeadline(time.Time) error }); ok {
		_ = d.SetReadDeadline(time.Now())
	}
	return fmt.Errorf("%w: %v", ErrWriteFailure, err)
}

// drain reads and discards until the peer goes away, the read fails or the
// connection is marked failed.
func (c *Conn) drain() error {
	buf := make([]byte, 512)
	for !c.failed.Load() {
		n, err := c.rwc.Read(buf)
		c.bytesIn.Add(uint64(n))
		if err != nil {
			return err
		}
	}
	return ErrWriteFailure
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		_ = c.rwc.Close()
	})
}
