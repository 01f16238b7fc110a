package sqlclass

import (
	"errors"
	"strings"
	"testing"

	"vibegate/internal/auth"
)

func TestClassifyBasicStatements(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		wantLvl  auth.Level
		wantType string
	}{
		{"simple select", "SELECT 1", auth.LevelRead, "SELECT"},
		{"lowercase select", "select * from users", auth.LevelRead, "SELECT"},
		{"show", "SHOW server_version", auth.LevelRead, "SHOW"},
		{"insert", "INSERT INTO t VALUES (1)", auth.LevelWrite, "INSERT"},
		{"update", "UPDATE t SET a = 1", auth.LevelWrite, "UPDATE"},
		{"delete", "DELETE FROM t", auth.LevelWrite, "DELETE"},
		{"upsert", "UPSERT INTO t VALUES (1)", auth.LevelWrite, "UPSERT"},
		{"merge", "MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN UPDATE SET a = 1", auth.LevelWrite, "MERGE"},
		{"copy", "COPY t FROM '/tmp/data.csv'", auth.LevelWrite, "COPY"},
		{"create table", "CREATE TABLE t(id INT)", auth.LevelSchema, "CREATE"},
		{"create table no space before paren", "CREATE TABLE t(id INT PRIMARY KEY)", auth.LevelSchema, "CREATE"},
		{"alter table", "ALTER TABLE t ADD COLUMN b TEXT", auth.LevelSchema, "ALTER"},
		{"drop table", "DROP TABLE t", auth.LevelSchema, "DROP"},
		{"drop index", "DROP INDEX idx_t_a", auth.LevelSchema, "DROP"},
		{"create schema", "CREATE SCHEMA app", auth.LevelAdmin, "CREATE SCHEMA"},
		{"drop schema", "DROP SCHEMA foo", auth.LevelAdmin, "DROP SCHEMA"},
		{"alter schema", "ALTER SCHEMA foo RENAME TO bar", auth.LevelAdmin, "ALTER SCHEMA"},
		{"truncate", "TRUNCATE t", auth.LevelAdmin, "TRUNCATE"},
		{"grant", "GRANT SELECT ON t TO alice", auth.LevelAdmin, "GRANT"},
		{"revoke", "REVOKE ALL ON t FROM bob", auth.LevelAdmin, "REVOKE"},
		{"vacuum", "VACUUM FULL t", auth.LevelAdmin, "VACUUM"},
		{"reindex", "REINDEX TABLE t", auth.LevelAdmin, "REINDEX"},
		{"cluster", "CLUSTER t USING idx", auth.LevelAdmin, "CLUSTER"},
		{"trailing semicolon tolerated", "SELECT 1;", auth.LevelRead, "SELECT"},
		{"leading whitespace", "   \n\t SELECT 1", auth.LevelRead, "SELECT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.sql)
			if err != nil {
				t.Fatalf("Classify(%q) error: %v", tt.sql, err)
			}
			if got.Level != tt.wantLvl {
				t.Errorf("Classify(%q) level = %v, want %v", tt.sql, got.Level, tt.wantLvl)
			}
			if got.StatementType != tt.wantType {
				t.Errorf("Classify(%q) type = %q, want %q", tt.sql, got.StatementType, tt.wantType)
			}
		})
	}
}

func TestClassifyComments(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		wantLvl  auth.Level
		wantType string
	}{
		{"leading line comment", "-- note\nSELECT 1", auth.LevelRead, "SELECT"},
		{"leading block comment", "/* note */ DELETE FROM t", auth.LevelWrite, "DELETE"},
		{"stacked comments", "-- a\n-- b\n/* c */\nDROP TABLE t", auth.LevelSchema, "DROP"},
		{"nested block comment", "/* outer /* inner */ still outer */ SELECT 1", auth.LevelRead, "SELECT"},
		{"comment hiding keyword", "/* DELETE */ SELECT 1", auth.LevelRead, "SELECT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.sql)
			if err != nil {
				t.Fatalf("Classify(%q) error: %v", tt.sql, err)
			}
			if got.Level != tt.wantLvl || got.StatementType != tt.wantType {
				t.Errorf("Classify(%q) = %v/%q, want %v/%q",
					tt.sql, got.Level, got.StatementType, tt.wantLvl, tt.wantType)
			}
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr error
	}{
		{"empty", "", ErrEmptyStatement},
		{"whitespace only", "  \n\t ", ErrEmptyStatement},
		{"comment only", "-- just a comment", ErrEmptyStatement},
		{"block comment only", "/* nothing here */", ErrEmptyStatement},
		{"unterminated block comment", "/* oops SELECT 1", ErrUnterminatedComment},
		{"multi statement", "SELECT 1; DROP TABLE t", ErrMultiStatement},
		{"multi statement no space", "SELECT 1;DROP TABLE t", ErrMultiStatement},
		{"semicolon then comment smuggle", "SELECT 1; -- x\nDELETE FROM t", ErrMultiStatement},
		{"with no terminal", "WITH x AS (SELECT 1)", ErrNoTerminalStatement},
		{"with never closes", "WITH x AS (SELECT 1", ErrNoTerminalStatement},
		{"leading paren", "(SELECT 1)", ErrNoLeadingKeyword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.sql)
			if err == nil {
				t.Fatalf("Classify(%q) succeeded, want error", tt.sql)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Classify(%q) error = %v, want %v", tt.sql, err, tt.wantErr)
			}
		})
	}
}

func TestClassifyUnknownKeyword(t *testing.T) {
	for _, sql := range []string{"FROBNICATE t", "BEGIN", "SET search_path TO app", "CALL p()"} {
		if _, err := Classify(sql); err == nil {
			t.Errorf("Classify(%q) succeeded, want error", sql)
		}
	}
}

func TestClassifyQuoting(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		wantLvl  auth.Level
		wantType string
		wantErr  bool
	}{
		{"semicolon inside string", "SELECT 'a; DROP TABLE t'", auth.LevelRead, "SELECT", false},
		{"escaped quote then semicolon inside string", "SELECT 'it''s; fine'", auth.LevelRead, "SELECT", false},
		{"semicolon inside double quotes", `SELECT "col;name" FROM t`, auth.LevelRead, "SELECT", false},
		{"escaped quote terminates then batch", "SELECT 'a'''; DELETE FROM t", 0, "", true},
		{"string closes then batch", "SELECT 'a'; DELETE FROM t", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.sql)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Classify(%q) succeeded, want error", tt.sql)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify(%q) error: %v", tt.sql, err)
			}
			if got.Level != tt.wantLvl || got.StatementType != tt.wantType {
				t.Errorf("Classify(%q) = %v/%q, want %v/%q",
					tt.sql, got.Level, got.StatementType, tt.wantLvl, tt.wantType)
			}
		})
	}
}

func TestClassifyWithChains(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		wantLvl  auth.Level
		wantType string
	}{
		{
			"cte select",
			"WITH x AS (SELECT 1) SELECT * FROM x",
			auth.LevelRead, "WITH...SELECT",
		},
		{
			"cte insert",
			"WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x",
			auth.LevelWrite, "WITH...INSERT",
		},
		{
			"cte delete",
			"WITH doomed AS (SELECT id FROM t WHERE old) DELETE FROM t WHERE id IN (SELECT id FROM doomed)",
			auth.LevelWrite, "WITH...DELETE",
		},
		{
			"chained ctes",
			"WITH a AS (SELECT 1), b AS (SELECT 2) UPDATE t SET v = 1",
			auth.LevelWrite, "WITH...UPDATE",
		},
		{
			"recursive cte",
			"WITH RECURSIVE r AS (SELECT 1 UNION ALL SELECT n+1 FROM r) SELECT * FROM r",
			auth.LevelRead, "WITH...SELECT",
		},
		{
			"nested parens in cte body",
			"WITH x AS (SELECT f(g(1)) FROM t) DELETE FROM t",
			auth.LevelWrite, "WITH...DELETE",
		},
		{
			"cte with quoted parens",
			"WITH x AS (SELECT '(' || ')') INSERT INTO t SELECT * FROM x",
			auth.LevelWrite, "WITH...INSERT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.sql)
			if err != nil {
				t.Fatalf("Classify(%q) error: %v", tt.sql, err)
			}
			if got.Level != tt.wantLvl || got.StatementType != tt.wantType {
				t.Errorf("Classify(%q) = %v/%q, want %v/%q",
					tt.sql, got.Level, got.StatementType, tt.wantLvl, tt.wantType)
			}
		})
	}
}

func TestClassifyExplain(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		wantLvl  auth.Level
		wantType string
	}{
		{"explain select", "EXPLAIN SELECT 1", auth.LevelRead, "EXPLAIN SELECT"},
		{"explain analyze select", "EXPLAIN ANALYZE SELECT 1", auth.LevelRead, "EXPLAIN SELECT"},
		{"explain analyze verbose", "EXPLAIN ANALYZE VERBOSE SELECT 1", auth.LevelRead, "EXPLAIN SELECT"},
		{"explain options list", "EXPLAIN (ANALYZE, FORMAT JSON) SELECT 1", auth.LevelRead, "EXPLAIN SELECT"},
		{"explain delete keeps write level", "EXPLAIN ANALYZE DELETE FROM t", auth.LevelWrite, "EXPLAIN DELETE"},
		{"bare explain defaults to read", "EXPLAIN", auth.LevelRead, "EXPLAIN"},
		{"explain cte", "EXPLAIN WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x", auth.LevelWrite, "EXPLAIN WITH...INSERT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.sql)
			if err != nil {
				t.Fatalf("Classify(%q) error: %v", tt.sql, err)
			}
			if got.Level != tt.wantLvl || got.StatementType != tt.wantType {
				t.Errorf("Classify(%q) = %v/%q, want %v/%q",
					tt.sql, got.Level, got.StatementType, tt.wantLvl, tt.wantType)
			}
		})
	}
}

func TestClassifySizeLimit(t *testing.T) {
	huge := "SELECT '" + strings.Repeat("a", MaxStatementBytes) + "'"
	if _, err := Classify(huge); !errors.Is(err, ErrStatementTooLarge) {
		t.Fatalf("Classify(oversized) error = %v, want ErrStatementTooLarge", err)
	}
}

func TestClassifyMultiStatementProperty(t *testing.T) {
	// Any unquoted ';' followed by non-whitespace must be rejected,
	// whatever the statements are.
	batches := []string{
		"SELECT 1; SELECT 2",
		"DELETE FROM t; VACUUM",
		"SHOW x;GRANT ALL ON t TO mallory",
		"WITH x AS (SELECT 1) SELECT * FROM x; DROP TABLE t",
	}
	for _, sql := range batches {
		if _, err := Classify(sql); !errors.Is(err, ErrMultiStatement) {
			t.Errorf("Classify(%q) error = %v, want ErrMultiStatement", sql, err)
		}
	}
}
