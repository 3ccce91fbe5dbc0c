package query

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basalt-labs/histd/pkg/rpc"
	"github.com/basalt-labs/histd/pkg/store"
	"github.com/basalt-labs/histd/pkg/types"
)

func startTestServer(t *testing.T) (*store.Store, string) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	// Reserve an ephemeral port, then release it immediately so Serve's
	// own ResolveTCPAddr/ListenTCP can bind the same address.
	probe, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	addr := probe.Addr().String()
	require.NoError(t, probe.Close())

	srv := NewServer(st, addr)
	go func() {
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() { _ = srv.Close() })

	// Give the listener a moment to bind.
	for i := 0; i < 50; i++ {
		conn, err := net.DialTimeout("tcp", addr, 20*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return st, addr
}

func TestServer_QueryRoundTrip(t *testing.T) {
	st, addr := startTestServer(t)

	require.NoError(t, st.InsertEvent(context.Background(), types.IngestRecord{
		Session: 1, Host: "h1", ExitStatus: 0, Dir: "/tmp", Argv: "echo hi", EndTime: 100,
	}))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, rpc.WriteFrame(conn, rpc.OpQuery, rpc.QueryRequest{Limit: 25, Desc: true}))

	op, payload, err := rpc.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, rpc.OpQuery, op)

	var resp rpc.QueryResponse
	require.NoError(t, rpc.DecodeBody(payload, &resp))
	require.Nil(t, resp.Error)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "echo hi", resp.Rows[0].Argv)
}

func TestServer_ISearchRoundTrip(t *testing.T) {
	st, addr := startTestServer(t)

	require.NoError(t, st.InsertEvent(context.Background(), types.IngestRecord{
		Session: 1, Host: "h1", ExitStatus: 0, Dir: "/tmp", Argv: "git status", EndTime: 100,
	}))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, rpc.WriteFrame(conn, rpc.OpISearch, rpc.ISearchRequest{Command: "git", Limit: 25}))

	op, payload, err := rpc.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, rpc.OpISearch, op)

	var resp rpc.QueryResponse
	require.NoError(t, rpc.DecodeBody(payload, &resp))
	require.Nil(t, resp.Error)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "git status", resp.Rows[0].Argv)
}

func TestServer_MultipleRequestsOnOneConnection(t *testing.T) {
	st, addr := startTestServer(t)

	require.NoError(t, st.InsertEvent(context.Background(), types.IngestRecord{
		Session: 1, Host: "h1", ExitStatus: 0, Dir: "/tmp", Argv: "ls", EndTime: 100,
	}))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, rpc.WriteFrame(conn, rpc.OpQuery, rpc.QueryRequest{Limit: 25, Desc: true}))
		_, payload, err := rpc.ReadFrame(conn)
		require.NoError(t, err)
		var resp rpc.QueryResponse
		require.NoError(t, rpc.DecodeBody(payload, &resp))
		require.Len(t, resp.Rows, 1)
	}
}
