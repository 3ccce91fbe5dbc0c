package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/basalt-labs/histd/pkg/histderr"
	"github.com/basalt-labs/histd/pkg/types"
)

// Query implements the `query` RPC operation (spec section 4.3). Rows
// are grouped by (command_id, place_id); within each group the row
// returned is the one with the maximum end_time. Groups are ordered by
// that maximum end_time descending and truncated to q.Limit. If
// q.Desc is false the final list is reversed, so the most recent row
// ends up last (matching terminal paging, where the user reads
// bottom-up).
func (s *Store) Query(ctx context.Context, q types.QueryFilter) ([]types.ResultRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var where []string
	var args []any

	if q.HasHost {
		where = append(where, "p.host = ?")
		args = append(args, q.Host)
	}
	if q.HasCmd {
		if q.Exact {
			where = append(where, "c.argv = ?")
			args = append(args, q.Command)
		} else {
			where = append(where, "c.argv GLOB ?")
			args = append(args, "*"+q.Command+"*")
		}
	}
	if q.HasIn {
		where = append(where, "(p.dir = ? OR p.dir LIKE ? ESCAPE '\\')")
		args = append(args, q.InDir, escapeLike(q.InDir)+"/%")
	}
	if q.HasAt {
		where = append(where, "p.dir = ?")
		args = append(args, q.AtDir)
	}
	if q.HasSession {
		where = append(where, "h.session = ?")
		args = append(args, q.Session)
	}
	if q.HasStatus {
		if q.Status == "error" {
			where = append(where, "h.exit_status > 0")
		} else {
			// Preserved as-is per spec section 9's open question: the
			// status filter compares exit_status cast to text, so a
			// non-numeric value silently matches nothing.
			where = append(where, "CAST(h.exit_status AS TEXT) = ?")
			args = append(args, q.Status)
		}
	}
	if q.HasSince {
		where = append(where, "h.end_time >= ?")
		args = append(args, q.Since)
	}
	if q.HasUntil {
		where = append(where, "h.end_time <= ?")
		args = append(args, q.Until)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 25
	}

	rows, err := s.runGroupedQuery(ctx, whereSQL, args, limit)
	if err != nil {
		return nil, err
	}
	if !q.Desc {
		reverse(rows)
	}
	return rows, nil
}

// runGroupedQuery executes the (command_id, place_id)-grouped,
// max(end_time) representative selection that backs Query. The
// session for the representative row is re-derived with a correlated
// subquery keyed on the same (command_id, place_id, end_time) so the
// returned session always belongs to the winning row rather than an
// arbitrary group member, which plain "GROUP BY ... MAX(end_time)"
// does not guarantee in SQL generally (SQLite's bare-column extension
// happens to, but this keeps the query portable and explicit).
func (s *Store) runGroupedQuery(ctx context.Context, whereSQL string, args []any, limit int) ([]types.ResultRow, error) {
	sqlText := fmt.Sprintf(`
		SELECT
			g.end_time,
			(SELECT h2.session FROM history h2
			   WHERE h2.command_id = g.command_id AND h2.place_id = g.place_id
			     AND h2.end_time = g.end_time
			   ORDER BY h2.id DESC LIMIT 1) AS session,
			c.argv,
			p.dir,
			p.host
		FROM (
			SELECT h.command_id, h.place_id, MAX(h.end_time) AS end_time
			FROM history h
			JOIN commands c ON c.id = h.command_id
			JOIN places p ON p.id = h.place_id
			%s
			GROUP BY h.command_id, h.place_id
		) g
		JOIN commands c ON c.id = g.command_id
		JOIN places p ON p.id = g.place_id
		ORDER BY g.end_time DESC
		LIMIT ?
	`, whereSQL)

	queryArgs := append(append([]any{}, args...), limit)
	rows, err := s.db.QueryContext(ctx, sqlText, queryArgs...)
	if err != nil {
		return nil, histderr.Storage("execute query", err)
	}
	defer rows.Close()

	var out []types.ResultRow
	for rows.Next() {
		var r types.ResultRow
		if err := rows.Scan(&r.EndTime, &r.Session, &r.Argv, &r.Dir, &r.Host); err != nil {
			return nil, histderr.Storage("scan query row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, histderr.Storage("iterate query rows", err)
	}
	return out, nil
}

// ISearch implements the `isearch` RPC operation (spec section 4.3).
// Groups by (command_id, place_id) and orders by three keys: the
// group's max(history.id) descending, then argv-prefix-match
// descending, then dir-prefix-match descending. Only Argv is populated
// on the returned rows by contract — isearch runs on every keystroke
// and the caller doesn't need the rest.
func (s *Store) ISearch(ctx context.Context, q types.ISearchFilter) ([]types.ResultRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 25
	}

	escaped := escapeLike(q.Command)

	sqlText := `
		SELECT c.argv
		FROM history h
		JOIN commands c ON c.id = h.command_id
		JOIN places p ON p.id = h.place_id
		WHERE c.argv LIKE ? ESCAPE '\'
		GROUP BY h.command_id, h.place_id
		ORDER BY
			MAX(h.id) DESC,
			CASE WHEN c.argv LIKE ? ESCAPE '\' THEN 0 ELSE 1 END ASC,
			CASE WHEN MAX(p.dir LIKE ? ESCAPE '\') THEN 0 ELSE 1 END ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, sqlText,
		"%"+escaped+"%",
		escaped+"%",
		escapeLike(q.Dir)+"%",
		limit, q.Offset,
	)
	if err != nil {
		return nil, histderr.Storage("execute isearch", err)
	}
	defer rows.Close()

	var out []types.ResultRow
	for rows.Next() {
		var r types.ResultRow
		if err := rows.Scan(&r.Argv); err != nil {
			return nil, histderr.Storage("scan isearch row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, histderr.Storage("iterate isearch rows", err)
	}
	return out, nil
}

// escapeLike escapes the LIKE wildcards % and _ (and the escape
// character itself) with backslash, so a literal wildcard character in
// a command or directory is matched literally rather than as a
// pattern (spec section 4.3).
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func reverse(rows []types.ResultRow) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

