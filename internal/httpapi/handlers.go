package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/ishan/user-service/internal/importing"
	"github.com/ishan/user-service/internal/jobs"
	"github.com/ishan/user-service/internal/ratelimit"
)

// ErrorDomain is used in all error responses of the service.
const ErrorDomain = "UserService"

// UserIDHeader carries the caller's identity. Opaque text, no colons.
const UserIDHeader = "X-User-ID"

// Error codes of the service.
var (
	ErrCodeInvalidCount       = "invalidCount"
	ErrCodeInvalidUserID      = "invalidUserID"
	ErrCodeTooManyRequests    = "tooManyRequests"
	ErrCodeCooldownActive     = "cooldownActive"
	ErrCodeJobNotFound        = "jobNotFound"
	ErrCodeServiceUnavailable = "serviceUnavailable"
)

// JobSubmitter admits and schedules import jobs. Satisfied by *jobs.Runner.
type JobSubmitter interface {
	Submit(ctx context.Context, userID string, requestedCount int) (*jobs.Job, error)
}

// API exposes the service's HTTP handlers.
type API struct {
	Runner   JobSubmitter
	Statuses jobs.StatusStore
	Users    importing.UserPager
	Logger   log.FieldLogger
}

// Routes registers the v1 API routes on the router. Meant to be plugged
// into httpserver.Opts.APIRoutes.
func (a *API) Routes(router chi.Router) {
	router.Post("/users/import/async", a.handleImportAsync)
	router.Get("/users/export/csv", a.handleExportCSV)
	router.Get("/jobs/{jobID}", a.handleJobStatus)
}

// submitResponse is the body of a successful asynchronous import submission.
type submitResponse struct {
	JobID   string      `json:"jobId"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// jobStatusResponse is the body of a job status query.
type jobStatusResponse struct {
	JobID          string      `json:"jobId"`
	Status         jobs.Status `json:"status"`
	RequestedCount int         `json:"requestedCount"`
	ProcessedCount int         `json:"processedCount"`
	Progress       int         `json:"progress"`
	StartedAt      string      `json:"startedAt"`
	Message        string      `json:"message,omitempty"`
}

func (a *API) requestLogger(r *http.Request) log.FieldLogger {
	if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return a.Logger
}

func (a *API) handleImportAsync(rw http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)

	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count <= 0 {
		apiErr := restapi.NewError(ErrorDomain, ErrCodeInvalidCount, "Query parameter 'count' must be a positive integer.")
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
		return
	}

	userID := r.Header.Get(UserIDHeader)
	if userID == "" || strings.Contains(userID, ":") {
		apiErr := restapi.NewError(ErrorDomain, ErrCodeInvalidUserID,
			fmt.Sprintf("Header %s is required and must not contain ':'.", UserIDHeader))
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
		return
	}

	job, err := a.Runner.Submit(r.Context(), userID, count)
	if err != nil {
		a.respondSubmitError(rw, logger, err)
		return
	}

	restapi.RespondCodeAndJSON(rw, http.StatusAccepted, submitResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: fmt.Sprintf("Import of %d users accepted, poll /jobs/%s for progress.", count, job.ID),
	}, logger)
}

func (a *API) respondSubmitError(rw http.ResponseWriter, logger log.FieldLogger, err error) {
	var limitErr *ratelimit.ConcurrencyLimitError
	if errors.As(err, &limitErr) {
		apiErr := restapi.NewError(ErrorDomain, ErrCodeTooManyRequests,
			fmt.Sprintf("%s concurrency limit reached, max allowed %d.", limitErr.Tier, limitErr.Limit))
		apiErr.AddContext("tier", limitErr.Tier.String())
		apiErr.AddContext("limit", limitErr.Limit)
		restapi.RespondError(rw, http.StatusTooManyRequests, apiErr, logger)
		return
	}

	var cooldownErr *ratelimit.CooldownActiveError
	if errors.As(err, &cooldownErr) {
		apiErr := restapi.NewError(ErrorDomain, ErrCodeCooldownActive,
			fmt.Sprintf("You are in cooldown for %d more seconds.", cooldownErr.RemainingSeconds))
		apiErr.AddContext("tier", cooldownErr.Tier.String())
		apiErr.AddContext("totalSeconds", cooldownErr.TotalSeconds)
		apiErr.AddContext("remainingSeconds", cooldownErr.RemainingSeconds)
		restapi.RespondError(rw, http.StatusTooManyRequests, apiErr, logger)
		return
	}

	logger.Error("import submission failed", log.Error(err))
	apiErr := restapi.NewError(ErrorDomain, ErrCodeServiceUnavailable, "Service is temporarily unavailable, try again later.")
	restapi.RespondError(rw, http.StatusServiceUnavailable, apiErr, logger)
}

func (a *API) handleJobStatus(rw http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)
	jobID := chi.URLParam(r, "jobID")

	job, ok, err := a.Statuses.Get(r.Context(), jobID)
	if err != nil {
		logger.Error("load job status failed", log.String("job_id", jobID), log.Error(err))
		apiErr := restapi.NewError(ErrorDomain, ErrCodeServiceUnavailable, "Service is temporarily unavailable, try again later.")
		restapi.RespondError(rw, http.StatusServiceUnavailable, apiErr, logger)
		return
	}
	if !ok {
		apiErr := restapi.NewError(ErrorDomain, ErrCodeJobNotFound, fmt.Sprintf("Job %q not found.", jobID))
		restapi.RespondError(rw, http.StatusNotFound, apiErr, logger)
		return
	}

	restapi.RespondJSON(rw, jobStatusResponse{
		JobID:          job.ID,
		Status:         job.Status,
		RequestedCount: job.RequestedCount,
		ProcessedCount: job.ProcessedCount,
		Progress:       job.Progress(),
		StartedAt:      job.StartedAt.Format(time.RFC3339),
		Message:        job.Message,
	}, logger)
}

func (a *API) handleExportCSV(rw http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)

	rw.Header().Set("Content-Type", "text/csv")
	rw.Header().Set("Content-Disposition", `attachment; filename="users.csv"`)

	n, err := importing.WriteUsersCSV(r.Context(), rw, a.Users)
	if err != nil {
		// The response is already streaming, so the best that can be done is
		// to log and cut the connection short.
		logger.Error("csv export failed", log.Int("exported", n), log.Error(err))
		return
	}
	logger.Info("csv export finished", log.Int("exported", n))
}
