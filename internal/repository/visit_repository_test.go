package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afyatrack/afyatrack-api/internal/model"
)

var visitCols = []string{"id", "patient_id", "doctor_id", "facility_id", "visit_date", "chief_complaint", "status", "subjective", "objective", "assessment", "plan", "transcript", "created_at", "updated_at"}

func TestVisitRepo_CreateDefaultsToOpen(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("INSERT INTO visits").
		WithArgs(uint64(1), uint64(2), nil, sqlmock.AnyArg(), "cough", "open", nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(30, 1))

	v := &model.Visit{PatientID: 1, DoctorID: 2, VisitDate: time.Now(), ChiefComplaint: "cough"}
	require.NoError(t, NewVisitRepo(db).Create(context.Background(), v))
	assert.Equal(t, uint64(30), v.ID)
	assert.Equal(t, model.VisitOpen, v.Status)
}

func TestVisitRepo_GetByID(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM visits WHERE id = ?")).
		WithArgs(uint64(30)).
		WillReturnRows(sqlmock.NewRows(visitCols).
			AddRow(30, 1, 2, nil, now, "cough", "open", "dry cough 3 days", nil, nil, nil, nil, now, now))

	v, err := NewVisitRepo(db).GetByID(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, "dry cough 3 days", v.Note.Subjective)
	assert.Empty(t, v.Note.Plan)
	assert.False(t, v.Note.Complete())
}

func TestVisitRepo_Complete(t *testing.T) {
	t.Run("open visit", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE visits SET status='completed' WHERE id=? AND status='open'")).
			WithArgs(uint64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, NewVisitRepo(db).Complete(context.Background(), 3))
	})

	t.Run("already completed", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec("UPDATE visits SET status").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM visits").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
		err := NewVisitRepo(db).Complete(context.Background(), 3)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec("UPDATE visits SET status").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM visits").
			WillReturnRows(sqlmock.NewRows([]string{"status"}))
		err := NewVisitRepo(db).Complete(context.Background(), 3)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestVisitRepo_UpdateNote_CompletedConflict(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("UPDATE visits SET chief_complaint").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM visits").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err := NewVisitRepo(db).UpdateNote(context.Background(), 3, "x", model.SOAPNote{Plan: "rest"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestVisitRepo_ListByPatient(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT COUNT").WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))
	mock.ExpectQuery("ORDER BY visit_date DESC").WithArgs(uint64(1), 10, 0).
		WillReturnRows(sqlmock.NewRows(visitCols).
			AddRow(2, 1, 2, nil, now, "b", "open", nil, nil, nil, nil, nil, now, now).
			AddRow(1, 1, 2, nil, now.Add(-time.Hour), "a", "completed", "s", "o", "a", "p", "t", now, now))

	out, total, err := NewVisitRepo(db).ListByPatient(context.Background(), 1, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, out, 2)
	assert.True(t, out[1].Note.Complete())
	require.NoError(t, mock.ExpectationsWereMet())
}
