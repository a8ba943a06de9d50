package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/SF-300/vigilant-disco/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

// TestAppendActivityInsertsBatch verifies one statement carries every row.
func TestAppendActivityInsertsBatch(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	at := time.Unix(1700000000, 0).UTC()
	op := uuid.New()
	batch := []store.Activity{
		{OperationID: op, Stage: "extraction", Role: "ocr-request", Text: "sending", At: at},
		{OperationID: op, Stage: "extraction", Role: "ocr-response", Text: "found 2", At: at},
	}
	mock.ExpectExec(`INSERT INTO activity \(operation_id, stage, role, text, at\) VALUES \(\$1, \$2, \$3, \$4, \$5\), \(\$6`).
		WithArgs(op, "extraction", "ocr-request", "sending", at, op, "extraction", "ocr-response", "found 2", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, s.AppendActivity(context.Background(), batch))
	require.NoError(t, s.AppendActivity(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestListActivityScansRows ensures rows map onto activity records.
func TestListActivityScansRows(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	at := time.Unix(1700000100, 0).UTC()
	op := uuid.New()
	rows := pgxmock.NewRows([]string{"operation_id", "stage", "role", "text", "at"}).
		AddRow(op, "export", "export-complete", "done", at)
	mock.ExpectQuery("SELECT operation_id, stage, role, text, at").
		WithArgs("export", 10, 0).
		WillReturnRows(rows)

	got, err := s.ListActivity(context.Background(), "export", 10, 0)
	require.NoError(t, err)
	require.Equal(t, []store.Activity{{OperationID: op, Stage: "export", Role: "export-complete", Text: "done", At: at}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestListActivityQueryError wraps driver failures.
func TestListActivityQueryError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT operation_id").WillReturnError(errors.New("connection reset"))
	_, err := s.ListActivity(context.Background(), "", 5, 0)
	require.ErrorContains(t, err, "list activity")
}

// TestInsertNotes verifies each note is inserted idempotently.
func TestInsertNotes(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	at := time.Unix(1700000200, 0).UTC()
	note := store.ExportedNote{NoteID: "proto-1", Kind: "Meaning", Deck: "Default", Payload: []byte(`{"type":"Meaning"}`), ExportedAt: at}
	mock.ExpectExec("INSERT INTO exported_notes").
		WithArgs(note.NoteID, note.Kind, note.Deck, note.Payload, note.ExportedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.InsertNotes(context.Background(), []store.ExportedNote{note}))
	require.NoError(t, mock.ExpectationsWereMet())

	require.ErrorContains(t, s.InsertNotes(context.Background(), []store.ExportedNote{{}}), "note id is required")
}

// TestMigrate applies the schema.
func TestMigrate(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS activity").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
