// Package ingest is the UDP write path: it binds the service port,
// decodes each datagram, and hands the record to the store. One bad
// datagram never brings the listener down (spec section 4.2).
package ingest

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/basalt-labs/histd/pkg/histderr"
	"github.com/basalt-labs/histd/pkg/log"
	"github.com/basalt-labs/histd/pkg/store"
)

// maxDatagramSize is the largest UDP payload a standard socket can
// deliver (spec section 4.2).
const maxDatagramSize = 65507

// Listener owns the UDP socket and dispatches decoded records into a
// Store. Modeled on the teacher's pkg/dns.Server lifecycle: a
// sync.RWMutex-guarded running flag plus a context-cancel goroutine.
type Listener struct {
	store *store.Store
	addr  string

	mu      sync.RWMutex
	running bool
	conn    *net.UDPConn
}

// NewListener builds a Listener bound to addr (host:port form, e.g.
// ":29080") once Run is called.
func NewListener(st *store.Store, addr string) *Listener {
	return &Listener{store: st, addr: addr}
}

// Run binds the socket and receives datagrams until ctx is canceled or
// a socket-level error destroys the listener. Per spec section 4.2,
// only the latter is fatal; parse and storage errors are logged and
// the loop continues.
func (l *Listener) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return histderr.IO("resolve ingest address", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return histderr.IO("bind ingest socket", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.running = true
	l.mu.Unlock()

	logger := log.WithComponent("ingest")
	logger.Info().Str("addr", l.addr).Msg("ingest listener started")

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			l.mu.RLock()
			stillRunning := l.running
			l.mu.RUnlock()
			if !stillRunning || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return histderr.IO("ingest socket read failed", err)
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		l.handleDatagram(ctx, datagram)
	}
}

// handleDatagram parses and persists one datagram, logging and
// discarding it on any non-fatal error (spec section 4.2).
func (l *Listener) handleDatagram(ctx context.Context, datagram []byte) {
	logger := log.WithComponent("ingest")

	rec, err := Parse(datagram, time.Now())
	if err != nil {
		logger.Warn().Err(err).Int("size", len(datagram)).Msg("rejected malformed datagram")
		return
	}

	if err := l.store.InsertEvent(ctx, rec); err != nil {
		logger.Error().Err(err).
			Str("host", rec.Host).
			Int("session", rec.Session).
			Msg("failed to persist ingested event")
		return
	}
}

// Stop cancels the running loop by closing the socket directly, for
// callers that hold a Listener without a cancelable context handy.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running || l.conn == nil {
		return nil
	}
	l.running = false
	return l.conn.Close()
}
