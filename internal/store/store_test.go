package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow lets the scan-error paths (not-found mapping, generic scan
// failure) be exercised without a live connection.
type fakeRow struct {
	err error
}

func (f fakeRow) Scan(dest ...any) error { return f.err }

func TestScanUser_NoRowsMapsToErrNotFound(t *testing.T) {
	_, err := scanUser(fakeRow{err: pgx.ErrNoRows})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("scanUser error = %v, want ErrNotFound", err)
	}
}

func TestScanUser_OtherErrorPassesThrough(t *testing.T) {
	wantErr := errors.New("connection reset")
	_, err := scanUser(fakeRow{err: wantErr})
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("scanUser error = %v, want wrapped %v", err, wantErr)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("scanUser error does not wrap the underlying error: %v", err)
	}
}

func TestScanTask_NoRowsMapsToErrNotFound(t *testing.T) {
	_, err := scanTask(fakeRow{err: pgx.ErrNoRows})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("scanTask error = %v, want ErrNotFound", err)
	}
}

func TestScanSyncMetadata_NoRowsMapsToErrNotFound(t *testing.T) {
	_, err := scanSyncMetadata(fakeRow{err: pgx.ErrNoRows})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("scanSyncMetadata error = %v, want ErrNotFound", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation code", &pgconn.PgError{Code: "23505"}, true},
		{"other pg error code", &pgconn.PgError{Code: "23503"}, false},
		{"non pg error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

var _ pgx.Row = fakeRow{}
