package importing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/retry"
)

// maxResultsPerRequest is the largest batch the random-user API serves in one
// response.
const maxResultsPerRequest = 500

// UserRecord is one imported user as the service stores it.
type UserRecord struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	City      string `json:"city"`
	State     string `json:"state"`
	Age       int    `json:"age"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Gender    string `json:"gender"`
}

// RandomUserClient pulls synthetic users from the random-user API.
// The http.Client is expected to come from httpclient.New, which already
// layers logging, metrics, and retry-on-5xx round trippers.
type RandomUserClient struct {
	httpClient    *http.Client
	baseURL       string
	nationalities string
	retryPolicy   retry.Policy
	logger        log.FieldLogger
}

// RandomUserClientOpts contains optional parameters for constructing RandomUserClient.
type RandomUserClientOpts struct {
	// Nationalities limits the API to latin-alphabet locales so the data fits
	// the storage schema.
	Nationalities string
	// RetryPolicy is applied around whole fetch attempts.
	RetryPolicy retry.Policy
}

// NewRandomUserClient creates a new RandomUserClient.
func NewRandomUserClient(httpClient *http.Client, baseURL string, logger log.FieldLogger) *RandomUserClient {
	return NewRandomUserClientWithOpts(httpClient, baseURL, logger, RandomUserClientOpts{})
}

// NewRandomUserClientWithOpts creates a new RandomUserClient with an ability
// to specify optional parameters.
func NewRandomUserClientWithOpts(
	httpClient *http.Client, baseURL string, logger log.FieldLogger, opts RandomUserClientOpts,
) *RandomUserClient {
	if opts.Nationalities == "" {
		opts.Nationalities = "us,ca,au,gb,in"
	}
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = retry.NewExponentialBackoffPolicy(500*time.Millisecond, 3)
	}
	return &RandomUserClient{
		httpClient:    httpClient,
		baseURL:       baseURL,
		nationalities: opts.Nationalities,
		retryPolicy:   opts.RetryPolicy,
		logger:        logger,
	}
}

// FetchUsers returns count synthetic users, splitting the request into
// API-sized pages.
func (c *RandomUserClient) FetchUsers(ctx context.Context, count int) ([]UserRecord, error) {
	users := make([]UserRecord, 0, count)
	for len(users) < count {
		page := count - len(users)
		if page > maxResultsPerRequest {
			page = maxResultsPerRequest
		}
		batch, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("random-user API returned an empty page, %d of %d users fetched", len(users), count)
		}
		users = append(users, batch...)
	}
	return users, nil
}

func (c *RandomUserClient) fetchPage(ctx context.Context, results int) ([]UserRecord, error) {
	var batch []UserRecord
	err := retry.DoWithRetry(ctx, c.retryPolicy, nil, nil, func(ctx context.Context) error {
		var fetchErr error
		batch, fetchErr = c.doFetchPage(ctx, results)
		if fetchErr != nil {
			c.logger.Warn("fetch random users attempt failed", log.Int("results", results), log.Error(fetchErr))
		}
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %d random users: %w", results, err)
	}
	return batch, nil
}

func (c *RandomUserClient) doFetchPage(ctx context.Context, results int) ([]UserRecord, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("results", strconv.Itoa(results))
	q.Set("nat", c.nationalities)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("random-user API returned status %d", resp.StatusCode)
	}

	var payload randomUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode random-user response: %w", err)
	}

	users := make([]UserRecord, 0, len(payload.Results))
	for _, r := range payload.Results {
		users = append(users, UserRecord{
			FirstName: r.Name.First,
			LastName:  r.Name.Last,
			City:      r.Location.City,
			State:     r.Location.State,
			Age:       r.Dob.Age,
			Email:     r.Email,
			Phone:     r.Phone,
			Gender:    r.Gender,
		})
	}
	return users, nil
}

// randomUserResponse mirrors the slice of the random-user API payload the
// service cares about.
type randomUserResponse struct {
	Results []struct {
		Gender string `json:"gender"`
		Name   struct {
			First string `json:"first"`
			Last  string `json:"last"`
		} `json:"name"`
		Location struct {
			City  string `json:"city"`
			State string `json:"state"`
		} `json:"location"`
		Email string `json:"email"`
		Dob   struct {
			Age int `json:"age"`
		} `json:"dob"`
		Phone string `json:"phone"`
	} `json:"results"`
}
