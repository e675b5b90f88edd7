// Package crm provides the typed HTTP client for the remote CRM API. All
// requests cross the shared rate limiter; failures are classified and wrapped
// in APIError for the caller to handle locally.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gcsops/crm-pipeline/pkg/ratelimit"
)

// Prometheus metrics for CRM API calls.
var (
	crmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_requests_total",
		Help: "Total CRM API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	crmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_request_duration_seconds",
		Help:    "CRM API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	crmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_errors_total",
		Help: "Total CRM API errors by class",
	}, []string{"class"})
)

// Endpoint label values, kept to path templates to bound metric cardinality.
const (
	endpointUsers     = "/users"
	endpointDeals     = "/deals"
	endpointDealTasks = "/deals/{id}/tasks"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the CRM API root, e.g. "https://crm.example.com/api/v1".
	BaseURL string

	// Token is the static bearer credential, supplied out of band.
	Token string

	// Timeout per HTTP request.
	Timeout time.Duration

	// UserAgent header sent with every request.
	UserAgent string
}

// Client is the CRM API client.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a CRM client. Missing base URL or token is a fatal
// configuration error, reported before any fetch begins.
func New(cfg Config, limiter *ratelimit.Limiter) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "crm-pipeline/1.0"
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		config:  cfg,
		logger:  log.With().Str("component", "crm-client").Logger(),
	}, nil
}

// ListUsers fetches one page of the user directory. The second return value
// is the authoritative total from meta, or 0 when the API omits it.
func (c *Client) ListUsers(ctx context.Context, limit, offset int) ([]User, int, error) {
	query := pageQuery(limit, offset)

	var resp usersResponse
	if err := c.get(ctx, endpointUsers, "/users", query, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Users, metaTotal(resp.Meta), nil
}

// ListDeals fetches one page of deals for a single owner.
func (c *Client) ListDeals(ctx context.Context, ownerID string, limit, offset int) ([]Deal, int, error) {
	query := pageQuery(limit, offset)
	query.Set("filters[owner_id]", ownerID)
	query.Set("orders[created_at]", "desc")

	var resp dealsResponse
	if err := c.get(ctx, endpointDeals, "/deals", query, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Deals, metaTotal(resp.Meta), nil
}

// ListDealTasks fetches all tasks attached to one deal. The child listing is
// not paginated upstream.
func (c *Client) ListDealTasks(ctx context.Context, dealID string) ([]Task, error) {
	var resp tasksResponse
	path := fmt.Sprintf("/deals/%s/tasks", url.PathEscape(dealID))
	if err := c.get(ctx, endpointDealTasks, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// get performs a rate-limited GET against the CRM API and decodes the JSON
// body into out.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	return c.limiter.Do(ctx, func() error {
		startTime := time.Now()
		defer func() {
			crmRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
		}()

		u := c.config.BaseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.config.UserAgent)

		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("url", u).
			Msg("Executing CRM request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			crmErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			crmRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return &APIError{
				Class:    ErrorClassNetwork,
				Endpoint: endpoint,
				Message:  "request failed",
				Err:      err,
			}
		}
		defer resp.Body.Close()

		crmRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			class := classifyStatus(resp.StatusCode)
			crmErrorsTotal.WithLabelValues(string(class)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status_code", resp.StatusCode).
				Str("error_class", string(class)).
				Msg("CRM request error")

			return &APIError{
				StatusCode: resp.StatusCode,
				Class:      class,
				Endpoint:   endpoint,
				Message:    resp.Status,
			}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			crmErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
			return &APIError{
				StatusCode: resp.StatusCode,
				Class:      ErrorClassDecode,
				Endpoint:   endpoint,
				Message:    "decode response",
				Err:        err,
			}
		}
		return nil
	})
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func pageQuery(limit, offset int) url.Values {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	return query
}

func metaTotal(meta *Meta) int {
	if meta == nil {
		return 0
	}
	return meta.Total
}
