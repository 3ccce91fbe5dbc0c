// Package query is the TCP RPC endpoint: it accepts connections,
// reads length-framed requests, and dispatches them against the store
// (spec section 4.3).
package query

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/basalt-labs/histd/pkg/histderr"
	"github.com/basalt-labs/histd/pkg/log"
	"github.com/basalt-labs/histd/pkg/rpc"
	"github.com/basalt-labs/histd/pkg/store"
	"github.com/basalt-labs/histd/pkg/types"
)

// idleTimeout closes a connection that submits no request within this
// window (spec part D.4 — bounds the "no server-side timeout" policy
// to a sane default for abandoned connections).
const idleTimeout = 2 * time.Minute

// Server accepts query and isearch connections against a Store.
type Server struct {
	store    *store.Store
	listener *net.TCPListener
	addr     string
}

// NewServer builds a Server bound to addr once Serve is called.
func NewServer(st *store.Store, addr string) *Server {
	return &Server{store: st, addr: addr}
}

// Serve accepts connections until ctx is canceled or the listener
// fails. Each connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", s.addr)
	if err != nil {
		return histderr.IO("resolve query address", err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return histderr.IO("bind query listener", err)
	}
	s.listener = ln

	logger := log.WithComponent("query")
	logger.Info().Str("addr", s.addr).Msg("query server started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return histderr.IO("query listener accept failed", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConn reads request frames sequentially (no pipelining, per
// spec section 4.3/5) until EOF, a read error, or the idle timeout
// trips, writing exactly one response frame per request.
func (s *Server) handleConn(ctx context.Context, conn *net.TCPConn) {
	defer conn.Close()

	connID := uuid.New().String()
	logger := log.WithComponent("query").With().Str("conn", connID).Logger()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline")
			return
		}

		op, payload, err := rpc.ReadFrame(conn)
		if err != nil {
			if !isExpectedDisconnect(err) {
				logger.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		var writeErr error
		switch op {
		case rpc.OpQuery:
			writeErr = s.handleQuery(ctx, conn, payload, logger)
		case rpc.OpISearch:
			writeErr = s.handleISearch(ctx, conn, payload, logger)
		default:
			writeErr = rpc.WriteFrame(conn, rpc.OpQuery, rpc.QueryResponse{
				Error: &rpc.ErrorResponse{Kind: histderr.KindOther.String(), Message: "unknown opcode"},
			})
		}
		if writeErr != nil {
			logger.Warn().Err(writeErr).Msg("failed to write response frame")
			return
		}
	}
}

func (s *Server) handleQuery(ctx context.Context, conn *net.TCPConn, payload []byte, logger zerolog.Logger) error {
	var req rpc.QueryRequest
	if err := rpc.DecodeBody(payload, &req); err != nil {
		return rpc.WriteFrame(conn, rpc.OpQuery, rpc.QueryResponse{
			Error: toErrorResponse(histderr.InvalidInput("malformed query request", err)),
		})
	}

	filter := types.QueryFilter{
		Host: req.Host, HasHost: req.HasHost,
		Command: req.Command, HasCmd: req.HasCmd, Exact: req.Exact,
		InDir: req.InDir, HasIn: req.HasIn,
		AtDir: req.AtDir, HasAt: req.HasAt,
		Session: req.Session, HasSession: req.HasSession,
		Status: req.Status, HasStatus: req.HasStatus,
		Since: req.Since, HasSince: req.HasSince,
		Until: req.Until, HasUntil: req.HasUntil,
		Desc: req.Desc, Limit: req.Limit,
	}

	rows, err := s.store.Query(ctx, filter)
	if err != nil {
		logger.Error().Err(err).Msg("query failed")
		return rpc.WriteFrame(conn, rpc.OpQuery, rpc.QueryResponse{Error: toErrorResponse(err)})
	}

	return rpc.WriteFrame(conn, rpc.OpQuery, rpc.QueryResponse{Rows: toWireRows(rows)})
}

func (s *Server) handleISearch(ctx context.Context, conn *net.TCPConn, payload []byte, logger zerolog.Logger) error {
	var req rpc.ISearchRequest
	if err := rpc.DecodeBody(payload, &req); err != nil {
		return rpc.WriteFrame(conn, rpc.OpISearch, rpc.QueryResponse{
			Error: toErrorResponse(histderr.InvalidInput("malformed isearch request", err)),
		})
	}

	filter := types.ISearchFilter{
		Command: req.Command, Dir: req.Dir, Limit: req.Limit, Offset: req.Offset,
	}

	rows, err := s.store.ISearch(ctx, filter)
	if err != nil {
		logger.Error().Err(err).Msg("isearch failed")
		return rpc.WriteFrame(conn, rpc.OpISearch, rpc.QueryResponse{Error: toErrorResponse(err)})
	}

	return rpc.WriteFrame(conn, rpc.OpISearch, rpc.QueryResponse{Rows: toWireRows(rows)})
}

// toErrorResponse maps the four wire-level classifications from spec
// section 6: InvalidFilename substitutes for the client connect-path
// case that never applies here, so InvalidInput maps onto it.
func toErrorResponse(err error) *rpc.ErrorResponse {
	kind := histderr.KindOf(err)
	wireKind := "OtherError"
	switch kind {
	case histderr.KindInvalidInput:
		wireKind = "InvalidFilename"
	case histderr.KindIO:
		wireKind = "IoError"
	case histderr.KindStorage:
		wireKind = "SqlError"
	}
	return &rpc.ErrorResponse{Kind: wireKind, Message: err.Error()}
}

func toWireRows(rows []types.ResultRow) []rpc.ResultRow {
	out := make([]rpc.ResultRow, len(rows))
	for i, r := range rows {
		out[i] = rpc.ResultRow{EndTime: r.EndTime, Session: r.Session, Argv: r.Argv, Dir: r.Dir, Host: r.Host}
	}
	return out
}

func isExpectedDisconnect(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed)
}
