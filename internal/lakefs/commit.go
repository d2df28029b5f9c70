package lakefs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/afroash/egat-monitor/internal/config"
)

// ErrBreakerOpen is returned while the commit circuit breaker is open.
var ErrBreakerOpen = errors.New("lakeFS commit breaker is open")

// Commit is the lakeFS commit object returned by the commit endpoint.
type Commit struct {
	ID           string            `json:"id"`
	Parents      []string          `json:"parents"`
	Committer    string            `json:"committer"`
	Message      string            `json:"message"`
	CreationDate int64             `json:"creation_date"`
	MetaRangeID  string            `json:"meta_range_id"`
	Metadata     map[string]string `json:"metadata"`
}

// CreatedAt returns the commit creation time.
func (c Commit) CreatedAt() time.Time {
	return time.Unix(c.CreationDate, 0).UTC()
}

type commitRequest struct {
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

// CommitClient commits staged changes on one branch
type CommitClient struct {
	client     *resty.Client
	breaker    *gobreaker.CircuitBreaker[*Commit]
	repository string
	branch     string
	logger     zerolog.Logger
}

// NewCommitClient creates a REST client for the lakeFS API. The breaker
// opens after 5 consecutive failed commits and half-opens after 30s.
func NewCommitClient(cfg config.LakeFSConfig, logger zerolog.Logger) *CommitClient {
	base := strings.TrimRight(cfg.Endpoint, "/") + "/api/v1"

	client := resty.New()
	client.SetBaseURL(base)
	client.SetBasicAuth(cfg.AccessKeyID, cfg.SecretAccessKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	client.SetTimeout(cfg.RequestTimeout)

	cb := gobreaker.NewCircuitBreaker[*Commit](gobreaker.Settings{
		Name:        "lakefs-commit",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	return &CommitClient{
		client:     client,
		breaker:    cb,
		repository: cfg.Repository,
		branch:     cfg.Branch,
		logger:     logger,
	}
}

// Commit records the branch's staged changes as a new version.
func (c *CommitClient) Commit(ctx context.Context, message string, metadata map[string]string) (*Commit, error) {
	commit, err := c.breaker.Execute(func() (*Commit, error) {
		return c.commit(ctx, message, metadata)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
		}
		return nil, err
	}

	c.logger.Info().Str("commit_id", commit.ID).Str("branch", c.branch).Msg("Committed table")
	return commit, nil
}

func (c *CommitClient) commit(ctx context.Context, message string, metadata map[string]string) (*Commit, error) {
	var (
		result Commit
		apiErr apiError
	)

	res, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"repository": c.repository,
			"branch":     c.branch,
		}).
		SetBody(commitRequest{Message: message, Metadata: metadata}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/repositories/{repository}/branches/{branch}/commits")
	if err != nil {
		return nil, fmt.Errorf("failed to send commit request: %w", err)
	}
	if res.IsError() {
		if apiErr.Message != "" {
			return nil, fmt.Errorf("commit rejected (status %d): %s", res.StatusCode(), apiErr.Message)
		}
		return nil, fmt.Errorf("commit rejected (status %d)", res.StatusCode())
	}
	if result.ID == "" {
		return nil, fmt.Errorf("commit response has no id")
	}
	return &result, nil
}

// State returns the breaker state, for health reporting.
func (c *CommitClient) State() gobreaker.State {
	return c.breaker.State()
}
