package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basalt-labs/histd/pkg/types"
)

func seedMixed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	events := []types.IngestRecord{
		{Session: 1, Host: "alpha", ExitStatus: 0, Dir: "/home/a", Argv: "git status", EndTime: 10},
		{Session: 1, Host: "alpha", ExitStatus: 1, Dir: "/home/a/proj", Argv: "go build", EndTime: 20},
		{Session: 2, Host: "beta", ExitStatus: 0, Dir: "/home/b", Argv: "git status", EndTime: 30},
		{Session: 2, Host: "beta", ExitStatus: 2, Dir: "/home/b", Argv: "make test", EndTime: 40},
	}
	for _, e := range events {
		require.NoError(t, s.InsertEvent(ctx, e))
	}
}

func TestQuery_FilterByHost(t *testing.T) {
	s := openTestStore(t)
	seedMixed(t, s)

	rows, err := s.Query(context.Background(), types.QueryFilter{
		HasHost: true, Host: "alpha", Limit: 25, Desc: true,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "alpha", r.Host)
	}
}

func TestQuery_FilterByCommandExact(t *testing.T) {
	s := openTestStore(t)
	seedMixed(t, s)

	rows, err := s.Query(context.Background(), types.QueryFilter{
		HasCmd: true, Command: "git status", Exact: true, Limit: 25, Desc: true,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "git status", r.Argv)
	}
}

func TestQuery_FilterByCommandGlob(t *testing.T) {
	s := openTestStore(t)
	seedMixed(t, s)

	rows, err := s.Query(context.Background(), types.QueryFilter{
		HasCmd: true, Command: "build", Limit: 25, Desc: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "go build", rows[0].Argv)
}

func TestQuery_FilterBySession(t *testing.T) {
	s := openTestStore(t)
	seedMixed(t, s)

	rows, err := s.Query(context.Background(), types.QueryFilter{
		HasSession: true, Session: 2, Limit: 25, Desc: true,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, 2, r.Session)
	}
}

func TestQuery_FilterBySinceUntil(t *testing.T) {
	s := openTestStore(t)
	seedMixed(t, s)

	rows, err := s.Query(context.Background(), types.QueryFilter{
		HasSince: true, Since: 15,
		HasUntil: true, Until: 35,
		Limit: 25, Desc: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.EndTime, int64(15))
		assert.LessOrEqual(t, r.EndTime, int64(35))
	}
}

func TestQuery_LimitTruncates(t *testing.T) {
	s := openTestStore(t)
	seedMixed(t, s)

	rows, err := s.Query(context.Background(), types.QueryFilter{Limit: 2, Desc: true})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	// Descending by end_time: most recent two are make test (40), git status@beta (30).
	assert.Equal(t, "make test", rows[0].Argv)
	assert.Equal(t, "git status", rows[1].Argv)
}

func TestQuery_DefaultLimitAppliedWhenUnset(t *testing.T) {
	s := openTestStore(t)
	seedMixed(t, s)

	rows, err := s.Query(context.Background(), types.QueryFilter{Desc: true})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestISearch_MostRecentGroupLeads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Two commands both matching "git" with the same end_time. Each
	// history row has its own id, so max(history.id) never ties between
	// groups and decides the order: "git diff", inserted second, leads.
	require.NoError(t, s.InsertEvent(ctx, types.IngestRecord{
		Session: 1, Host: "h", ExitStatus: 0, Dir: "/elsewhere", Argv: "git log", EndTime: 1,
	}))
	require.NoError(t, s.InsertEvent(ctx, types.IngestRecord{
		Session: 1, Host: "h", ExitStatus: 0, Dir: "/work", Argv: "git diff", EndTime: 1,
	}))

	rows, err := s.ISearch(ctx, types.ISearchFilter{Command: "git", Dir: "/work", Limit: 25})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "git diff", rows[0].Argv)
}

func TestISearch_RespectsLimitAndOffset(t *testing.T) {
	s := openTestStore(t)
	seedMixed(t, s)

	rows, err := s.ISearch(context.Background(), types.ISearchFilter{Command: "", Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rowsNext, err := s.ISearch(context.Background(), types.ISearchFilter{Command: "", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rowsNext, 2)
}
