package store

// schemaSQL creates the three normalized tables and the indices
// required by the query workloads (spec section 3): a primary index
// by end_time, secondaries on Place.dir and Place.host, and a
// composite on History(command_id, place_id) for the grouping both
// query operations perform.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS commands (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	argv TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS places (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	host TEXT NOT NULL,
	dir  TEXT NOT NULL,
	UNIQUE (host, dir)
);

CREATE TABLE IF NOT EXISTS history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session     INTEGER NOT NULL,
	command_id  INTEGER NOT NULL REFERENCES commands(id),
	place_id    INTEGER NOT NULL REFERENCES places(id),
	exit_status INTEGER NOT NULL,
	end_time    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_end_time ON history(end_time);
CREATE INDEX IF NOT EXISTS idx_places_dir ON places(dir);
CREATE INDEX IF NOT EXISTS idx_places_host ON places(host);
CREATE INDEX IF NOT EXISTS idx_history_command_place ON history(command_id, place_id);
`
