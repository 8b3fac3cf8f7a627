// Package sqlbundle holds the DDL for the timeline/slice relational
// schema as one hand-written script per dialect (SQLite and Postgres).
// internal/infra/persistence/{sqlite,postgres} execute it verbatim on open.
package sqlbundle

import (
	"bufio"
	"strings"
)

// SQLite returns the SQLite DDL for the timeline/slice schema.
func SQLite() string {
	return `
CREATE TABLE IF NOT EXISTS timelines (
    id             TEXT PRIMARY KEY,
    direction      TEXT NOT NULL,
    initial_entity BLOB NOT NULL,
    updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS slices (
    timeline_id TEXT NOT NULL REFERENCES timelines(id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    from_ts     TEXT,
    to_ts       TEXT,
    patch       BLOB,
    direction   TEXT NOT NULL,
    timestamp   TEXT NOT NULL,
    PRIMARY KEY (timeline_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_slices_timeline_from ON slices(timeline_id, from_ts);
`
}

// Postgres returns the Postgres DDL for the timeline/slice schema.
func Postgres() string {
	return `
CREATE TABLE IF NOT EXISTS timelines (
    id             TEXT PRIMARY KEY,
    direction      TEXT NOT NULL,
    initial_entity JSONB NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS slices (
    timeline_id TEXT NOT NULL REFERENCES timelines(id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    from_ts     TIMESTAMPTZ,
    to_ts       TIMESTAMPTZ,
    patch       JSONB,
    direction   TEXT NOT NULL,
    timestamp   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (timeline_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_slices_timeline_from ON slices(timeline_id, from_ts);
`
}

// SplitStatements splits a semicolon-terminated DDL script into executable
// statements. It drops blank lines and single-line comments that start
// with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}

	return stmts
}
