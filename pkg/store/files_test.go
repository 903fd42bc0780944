// pkg/store/files_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/bucket"
	"github.com/scout-etl/edge-ingest/pkg/domain"
)

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestClaimWinsAndLoses(t *testing.T) {
	db, mock := mockDB(t)
	s := NewFileStore(db, zap.NewNop())

	// Winning claim: one row transitioned.
	mock.ExpectExec(`UPDATE metadata\.scout_bucket_files SET processing_status`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	claimed, err := s.Claim(context.Background(), "file-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Error("expected winning claim")
	}

	// Losing claim: the conditional update matched nothing.
	mock.ExpectExec(`UPDATE metadata\.scout_bucket_files SET processing_status`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	claimed, err = s.Claim(context.Background(), "file-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed {
		t.Error("expected losing claim")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDiscoverFiltersAndOrders(t *testing.T) {
	db, mock := mockDB(t)
	s := NewFileStore(db, zap.NewNop())

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "bucket_name", "file_path", "file_name", "file_size", "file_hash",
		"source_type", "uploaded_at", "processing_status", "retry_count",
		"last_error", "quality_score", "device_id", "store_id", "item_count",
		"updated_at",
	}).AddRow("f1", "scout-ingest", "edge-transactions/a.json", "a.json", 100, "",
		"scout_edge", now, "pending", 0, nil, nil, nil, nil, nil, now)

	mock.ExpectQuery(`SELECT .+ FROM metadata\.scout_bucket_files WHERE \(processing_status = .+ OR \(processing_status = .+ AND retry_count < .+\)\) ORDER BY uploaded_at ASC LIMIT 10`).
		WithArgs(domain.FileStatusPending, domain.FileStatusFailed, 3).
		WillReturnRows(rows)

	files, err := s.Discover(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}
	if files[0].Status != domain.FileStatusPending {
		t.Errorf("status = %s, want pending", files[0].Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRegisterSkipsKnownFiles(t *testing.T) {
	db, mock := mockDB(t)
	s := NewFileStore(db, zap.NewNop())

	// First insert lands, second hits the identity conflict.
	mock.ExpectExec(`INSERT INTO metadata\.scout_bucket_files .+ ON CONFLICT \(bucket_name, file_path\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO metadata\.scout_bucket_files .+ ON CONFLICT \(bucket_name, file_path\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	refs := []bucket.FileRef{
		{Name: "a.json", Path: "edge-transactions/a.json", Size: 10, UpdatedAt: time.Now()},
		{Name: "b.json", Path: "edge-transactions/b.json", Size: 20, UpdatedAt: time.Now()},
	}
	registered, err := s.Register(context.Background(), "scout-ingest", "scout_edge", refs)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered != 1 {
		t.Errorf("registered = %d, want 1", registered)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMarkFailedIncrementsRetry(t *testing.T) {
	db, mock := mockDB(t)
	s := NewFileStore(db, zap.NewNop())

	mock.ExpectExec(`UPDATE metadata\.scout_bucket_files SET processing_status = .+ retry_count = retry_count \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkFailed(context.Background(), "f1", "download: connection reset"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
