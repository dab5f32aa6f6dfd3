package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpen_Pragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "test.db")
	db, err := Open(path, WithMkdirAll(), WithBusyTimeout(1234))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(3)

	// Every pooled connection must carry the pragmas.
	conns := make([]interface{ Close() error }, 0, 3)
	for i := 0; i < 3; i++ {
		c, err := db.Conn(context.Background())
		if err != nil {
			t.Fatalf("Conn: %v", err)
		}
		conns = append(conns, c)

		var fk, timeout int
		var mode string
		c.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&fk)
		c.QueryRowContext(context.Background(), "PRAGMA busy_timeout").Scan(&timeout)
		c.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode)
		if fk != 1 || timeout != 1234 || mode != "wal" {
			t.Errorf("conn %d: foreign_keys=%d busy_timeout=%d journal_mode=%q", i, fk, timeout, mode)
		}
	}
	for _, c := range conns {
		c.Close()
	}
}

func TestOpenMemory_Schema(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`))
	if _, err := db.Exec(`INSERT INTO t (v) VALUES ('x')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var n int
	db.QueryRow(`SELECT count(*) FROM t`).Scan(&n)
	if n != 1 {
		t.Errorf("count: got %d, want 1", n)
	}
}

func TestWithoutForeignKeys(t *testing.T) {
	db := OpenMemory(t, WithoutForeignKeys())
	var fk int
	db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	if fk != 0 {
		t.Errorf("foreign_keys: got %d, want 0", fk)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked (5)"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v): got %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTx_CommitAndRollback(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE t (v TEXT)`))
	ctx := context.Background()

	err := RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO t VALUES ('ok')`)
		return err
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	boom := errors.New("boom")
	err = RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.Exec(`INSERT INTO t VALUES ('rolled back')`)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTx: got %v, want boom", err)
	}

	var n int
	db.QueryRow(`SELECT count(*) FROM t`).Scan(&n)
	if n != 1 {
		t.Errorf("rows: got %d, want 1", n)
	}
}
