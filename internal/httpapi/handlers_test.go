package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/ishan/user-service/internal/importing"
	"github.com/ishan/user-service/internal/jobs"
	"github.com/ishan/user-service/internal/ratelimit"
)

type fakeSubmitter struct {
	submitErr error
	lastUser  string
	lastCount int
}

func (f *fakeSubmitter) Submit(_ context.Context, userID string, requestedCount int) (*jobs.Job, error) {
	f.lastUser = userID
	f.lastCount = requestedCount
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &jobs.Job{
		ID:             "J1",
		UserID:         userID,
		Tier:           ratelimit.TierSmall,
		RequestedCount: requestedCount,
		Status:         jobs.StatusPending,
		StartedAt:      time.Now().UTC(),
	}, nil
}

type fakeStatuses struct {
	job    *jobs.Job
	getErr error
}

func (f *fakeStatuses) Save(context.Context, *jobs.Job) error { return nil }

func (f *fakeStatuses) Get(_ context.Context, jobID string) (*jobs.Job, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	if f.job == nil || f.job.ID != jobID {
		return nil, false, nil
	}
	return f.job, true, nil
}

type fakeUsers struct {
	users []importing.UserRecord
}

func (f *fakeUsers) StreamUsers(_ context.Context, afterID int64, limit int) ([]importing.UserRecord, error) {
	var page []importing.UserRecord
	for _, u := range f.users {
		if u.ID > afterID {
			page = append(page, u)
			if len(page) == limit {
				break
			}
		}
	}
	return page, nil
}

func newTestAPI(submitter *fakeSubmitter, statuses *fakeStatuses, users *fakeUsers) http.Handler {
	if submitter == nil {
		submitter = &fakeSubmitter{}
	}
	if statuses == nil {
		statuses = &fakeStatuses{}
	}
	if users == nil {
		users = &fakeUsers{}
	}
	api := &API{Runner: submitter, Statuses: statuses, Users: users, Logger: log.NewDisabledLogger()}
	router := chi.NewRouter()
	api.Routes(router)
	return router
}

type errorBody struct {
	Err *restapi.Error `json:"error"`
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) *restapi.Error {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.Err)
	return body.Err
}

func TestHandleImportAsync(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		submitter := &fakeSubmitter{}
		handler := newTestAPI(submitter, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/users/import/async?count=50", nil)
		req.Header.Set(UserIDHeader, "u1")
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)

		require.Equal(t, http.StatusAccepted, resp.Code)
		var body submitResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Equal(t, "J1", body.JobID)
		require.Equal(t, jobs.StatusPending, body.Status)
		require.Equal(t, "u1", submitter.lastUser)
		require.Equal(t, 50, submitter.lastCount)
	})

	t.Run("invalid count", func(t *testing.T) {
		for _, q := range []string{"", "?count=0", "?count=-5", "?count=abc"} {
			req := httptest.NewRequest(http.MethodPost, "/users/import/async"+q, nil)
			req.Header.Set(UserIDHeader, "u1")
			resp := httptest.NewRecorder()
			newTestAPI(nil, nil, nil).ServeHTTP(resp, req)

			require.Equal(t, http.StatusBadRequest, resp.Code, "query %q", q)
			require.Equal(t, ErrCodeInvalidCount, decodeError(t, resp).Code)
		}
	})

	t.Run("invalid user id", func(t *testing.T) {
		for _, userID := range []string{"", "bad:user"} {
			req := httptest.NewRequest(http.MethodPost, "/users/import/async?count=10", nil)
			if userID != "" {
				req.Header.Set(UserIDHeader, userID)
			}
			resp := httptest.NewRecorder()
			newTestAPI(nil, nil, nil).ServeHTTP(resp, req)

			require.Equal(t, http.StatusBadRequest, resp.Code, "user id %q", userID)
			require.Equal(t, ErrCodeInvalidUserID, decodeError(t, resp).Code)
		}
	})

	t.Run("concurrency rejection is 429 with tier context", func(t *testing.T) {
		submitter := &fakeSubmitter{submitErr: &ratelimit.ConcurrencyLimitError{Tier: ratelimit.TierSmall, Limit: 10}}
		req := httptest.NewRequest(http.MethodPost, "/users/import/async?count=10", nil)
		req.Header.Set(UserIDHeader, "u1")
		resp := httptest.NewRecorder()
		newTestAPI(submitter, nil, nil).ServeHTTP(resp, req)

		require.Equal(t, http.StatusTooManyRequests, resp.Code)
		apiErr := decodeError(t, resp)
		require.Equal(t, ErrCodeTooManyRequests, apiErr.Code)
		require.Equal(t, "SMALL", apiErr.Context["tier"])
		require.Equal(t, float64(10), apiErr.Context["limit"])
		require.Contains(t, apiErr.Message, "SMALL")
		require.Contains(t, apiErr.Message, "10")
	})

	t.Run("cooldown rejection is 429 with window context", func(t *testing.T) {
		submitter := &fakeSubmitter{submitErr: &ratelimit.CooldownActiveError{
			Tier: ratelimit.TierSmall, TotalSeconds: 5, RemainingSeconds: 3,
		}}
		req := httptest.NewRequest(http.MethodPost, "/users/import/async?count=5000", nil)
		req.Header.Set(UserIDHeader, "u1")
		resp := httptest.NewRecorder()
		newTestAPI(submitter, nil, nil).ServeHTTP(resp, req)

		require.Equal(t, http.StatusTooManyRequests, resp.Code)
		apiErr := decodeError(t, resp)
		require.Equal(t, ErrCodeCooldownActive, apiErr.Code)
		require.Equal(t, float64(5), apiErr.Context["totalSeconds"])
		require.Equal(t, float64(3), apiErr.Context["remainingSeconds"])
	})

	t.Run("store trouble is 503", func(t *testing.T) {
		submitter := &fakeSubmitter{submitErr: errors.New("dial tcp: connection refused")}
		req := httptest.NewRequest(http.MethodPost, "/users/import/async?count=10", nil)
		req.Header.Set(UserIDHeader, "u1")
		resp := httptest.NewRecorder()
		newTestAPI(submitter, nil, nil).ServeHTTP(resp, req)

		require.Equal(t, http.StatusServiceUnavailable, resp.Code)
		require.Equal(t, ErrCodeServiceUnavailable, decodeError(t, resp).Code)
	})
}

func TestHandleJobStatus(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		statuses := &fakeStatuses{job: &jobs.Job{
			ID:             "J1",
			UserID:         "u1",
			Tier:           ratelimit.TierMedium,
			RequestedCount: 5000,
			ProcessedCount: 2500,
			Status:         jobs.StatusInProgress,
			StartedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Message:        "Import in progress",
		}}
		req := httptest.NewRequest(http.MethodGet, "/jobs/J1", nil)
		resp := httptest.NewRecorder()
		newTestAPI(nil, statuses, nil).ServeHTTP(resp, req)

		require.Equal(t, http.StatusOK, resp.Code)
		var body jobStatusResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Equal(t, "J1", body.JobID)
		require.Equal(t, jobs.StatusInProgress, body.Status)
		require.Equal(t, 50, body.Progress)
		require.Equal(t, "2024-05-01T12:00:00Z", body.StartedAt)
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/unknown", nil)
		resp := httptest.NewRecorder()
		newTestAPI(nil, &fakeStatuses{}, nil).ServeHTTP(resp, req)

		require.Equal(t, http.StatusNotFound, resp.Code)
		require.Equal(t, ErrCodeJobNotFound, decodeError(t, resp).Code)
	})

	t.Run("store trouble is 503", func(t *testing.T) {
		statuses := &fakeStatuses{getErr: errors.New("store down")}
		req := httptest.NewRequest(http.MethodGet, "/jobs/J1", nil)
		resp := httptest.NewRecorder()
		newTestAPI(nil, statuses, nil).ServeHTTP(resp, req)

		require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})
}

func TestHandleExportCSV(t *testing.T) {
	users := &fakeUsers{users: []importing.UserRecord{
		{ID: 1, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		{ID: 2, FirstName: "Alan", LastName: "Turing", Email: "alan@example.com"},
	}}
	req := httptest.NewRequest(http.MethodGet, "/users/export/csv", nil)
	resp := httptest.NewRecorder()
	newTestAPI(nil, nil, users).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
	require.Contains(t, resp.Body.String(), "Ada,Lovelace")
	require.Contains(t, resp.Body.String(), "Alan,Turing")
}
