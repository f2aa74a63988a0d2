package syncworker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpcomdev/edgevisiond/internal/model"
	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

type fakeStore struct {
	due     []model.SyncJob
	updated []model.SyncJob
}

func (f *fakeStore) DueSyncJobs(now time.Time, limit int) ([]model.SyncJob, error) {
	return f.due, nil
}

func (f *fakeStore) UpdateSyncJob(job model.SyncJob) error {
	f.updated = append(f.updated, job)
	return nil
}

func noopLogger() servicelog.Logger {
	return servicelog.New(nil, "/dev/null", false)
}

func TestRunOnceMarksJobCompletedOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fs := &fakeStore{due: []model.SyncJob{{ID: "job-1", EntityKind: model.EntityDetection, Priority: model.PriorityDetection}}}
	w := New(fs, Endpoint{BaseURL: srv.URL, Client: srv.Client()}, noopLogger())

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, fs.updated, 1)
	assert.Equal(t, model.SyncCompleted, fs.updated[0].Status)
}

func TestRunOnceSchedulesBackoffOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fs := &fakeStore{due: []model.SyncJob{{ID: "job-1", AttemptCount: 0}}}
	w := New(fs, Endpoint{BaseURL: srv.URL, Client: srv.Client()}, noopLogger())

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, fs.updated, 1)
	job := fs.updated[0]
	assert.Equal(t, model.SyncFailed, job.Status)
	assert.WithinDuration(t, time.Now().Add(BaseDelay), job.NextAttemptTime, 2*time.Second)
}

func TestRunOnceMarksPermanentOn400(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	fs := &fakeStore{due: []model.SyncJob{{ID: "job-1"}}}
	w := New(fs, Endpoint{BaseURL: srv.URL, Client: srv.Client()}, noopLogger())

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, fs.updated, 1)
	assert.Equal(t, model.SyncFailed, fs.updated[0].Status)
	assert.True(t, fs.updated[0].NextAttemptTime.IsZero())
}
