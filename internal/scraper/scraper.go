// Package scraper fetches the EGAT real-time dashboard and extracts the
// currently displayed power and temperature reading.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/config"
	"github.com/afroash/egat-monitor/internal/models"
)

// ErrNoReading is returned when the page holds no extractable reading.
var ErrNoReading = errors.New("no reading found on page")

// Source produces the current reading.
type Source interface {
	Scrape(ctx context.Context) (*models.Reading, error)
}

// PageScraper scrapes the dashboard page over HTTP
type PageScraper struct {
	client          *resty.Client
	url             string
	secondLookDelay time.Duration
	logger          zerolog.Logger
	now             func() time.Time

	fetches atomic.Int64
}

// NewPageScraper creates a scraper for the configured source page
func NewPageScraper(cfg config.SourceConfig, logger zerolog.Logger) (*PageScraper, error) {
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL: %w", err)
	}

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", cfg.UserAgent)
	client.SetHeader("accept", "text/html,application/xhtml+xml")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsed.Hostname()))
	client.SetTimeout(cfg.RequestTimeout)

	return &PageScraper{
		client:          client,
		url:             cfg.URL,
		secondLookDelay: cfg.SecondLookDelay,
		logger:          logger.With().Str("source", cfg.URL).Logger(),
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

// Scrape fetches the page and extracts a reading. When the first look finds
// nothing the page is given secondLookDelay to update and fetched once more.
func (s *PageScraper) Scrape(ctx context.Context) (*models.Reading, error) {
	r, err := s.look(ctx)
	if err == nil || !errors.Is(err, ErrNoReading) {
		return r, err
	}

	s.logger.Debug().Dur("delay", s.secondLookDelay).Msg("No reading on first look, waiting")
	if err := sleep(ctx, s.secondLookDelay); err != nil {
		return nil, err
	}
	return s.look(ctx)
}

func (s *PageScraper) look(ctx context.Context) (*models.Reading, error) {
	s.fetches.Add(1)
	res, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("failed to fetch page: status %d", res.StatusCode())
	}

	r, err := Extract(res.Body(), s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("date_id", r.DateID).
		Str("time", r.DisplayTime).
		Float64("power_mw", r.PowerMW).
		Float64("temp_c", r.TemperatureC).
		Msg("Extracted reading")
	return r, nil
}

// Fetches returns how many page requests have been made
func (s *PageScraper) Fetches() int64 {
	return s.fetches.Load()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
