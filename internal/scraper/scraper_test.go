package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/egat-monitor/internal/config"
)

var captured = time.Date(2025, 4, 1, 5, 30, 0, 0, time.UTC)

const tracePage = `<html><head><script>
console.log("updateMessageArea: 20250401, 12:25, 27,900.0, 31.0");
console.log("updateMessageArea: 20250401, 12:30, 28,123.5, 31.2");
</script></head><body></body></html>`

const domPage = `<html><body>
<div class="messageHeader"> 20250401 12:30 </div>
<div class="messageValue">28,123.5 MW</div>
<div class="messageTemp">31.2°C</div>
</body></html>`

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		page     string
		wantDate string
		wantTime string
		wantMW   float64
		wantC    float64
		wantErr  error
	}{
		{"trace last match wins", tracePage, "20250401", "12:30", 28123.5, 31.2, nil},
		{"dom fallback", domPage, "20250401", "12:30", 28123.5, 31.2, nil},
		{"trace without separators", `updateMessageArea:20250401,9:05,25000,29`, "20250401", "9:05", 25000, 29, nil},
		{"empty page", `<html><body></body></html>`, "", "", 0, 0, ErrNoReading},
		{"header only", `<div class="messageHeader">20250401 12:30</div>`, "", "", 0, 0, ErrNoReading},
		{"bad power", `<div class="messageHeader">20250401 12:30</div><div class="messageValue">--</div><div class="messageTemp">30</div>`, "", "", 0, 0, ErrNoReading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Extract([]byte(tt.page), captured)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDate, r.DateID)
			assert.Equal(t, tt.wantTime, r.DisplayTime)
			assert.InDelta(t, tt.wantMW, r.PowerMW, 1e-9)
			assert.InDelta(t, tt.wantC, r.TemperatureC, 1e-9)
			assert.True(t, r.ScrapedAt.Equal(captured))
			assert.True(t, r.IsValid())
		})
	}
}

func newTestScraper(t *testing.T, url string) *PageScraper {
	t.Helper()
	s, err := NewPageScraper(config.SourceConfig{
		URL:             url,
		UserAgent:       "egat-monitor-test",
		RequestTimeout:  5 * time.Second,
		SecondLookDelay: 10 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestPageScraper_Scrape(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "egat-monitor-test", r.Header.Get("User-Agent"))
		w.Write([]byte(tracePage))
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	r, err := s.Scrape(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12:30", r.DisplayTime)
	assert.EqualValues(t, 1, hits.Load())
	assert.EqualValues(t, 1, s.Fetches())
}

func TestPageScraper_SecondLook(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Write([]byte(`<html><body>loading</body></html>`))
			return
		}
		w.Write([]byte(domPage))
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	r, err := s.Scrape(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "20250401", r.DateID)
	assert.EqualValues(t, 2, hits.Load())
}

func TestPageScraper_NoReading(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>maintenance</body></html>`))
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	_, err := s.Scrape(context.Background())
	assert.ErrorIs(t, err, ErrNoReading)
	assert.EqualValues(t, 2, s.Fetches())
}

func TestPageScraper_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	_, err := s.Scrape(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoReading))
	assert.EqualValues(t, 1, s.Fetches(), "transport errors skip the second look")
}

func TestPageScraper_CancelledDuringSecondLook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html></html>`))
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	s.secondLookDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Scrape(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
