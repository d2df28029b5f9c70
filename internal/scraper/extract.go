package scraper

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/afroash/egat-monitor/internal/models"
)

// updatePattern matches the dashboard's update trace:
// updateMessageArea: <date id>, <H:MM>, <power with thousands separators>, <temperature>
var updatePattern = regexp.MustCompile(`updateMessageArea:\s*(\d+)\s*,\s*(\d{1,2}:\d{2})\s*,\s*([\d,]+\.?\d*)\s*,\s*(\d*\.?\d+)`)

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Extract pulls the latest reading out of a fetched page. The update trace
// wins when present (last occurrence); otherwise the rendered message area
// is read through its CSS classes. capturedAt becomes the reading timestamp.
func Extract(page []byte, capturedAt time.Time) (*models.Reading, error) {
	if r, ok := extractTrace(page, capturedAt); ok {
		return r, nil
	}
	return extractDOM(page, capturedAt)
}

func extractTrace(page []byte, capturedAt time.Time) (*models.Reading, bool) {
	matches := updatePattern.FindAllSubmatch(page, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		power, err := parseNumber(string(m[3]))
		if err != nil {
			continue
		}
		temp, err := parseNumber(string(m[4]))
		if err != nil {
			continue
		}
		return &models.Reading{
			ScrapedAt:    capturedAt.UTC(),
			DateID:       string(m[1]),
			DisplayTime:  string(m[2]),
			PowerMW:      power,
			TemperatureC: temp,
		}, true
	}
	return nil, false
}

func extractDOM(page []byte, capturedAt time.Time) (*models.Reading, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	header := strings.Fields(doc.Find(".messageHeader").First().Text())
	if len(header) < 2 {
		return nil, ErrNoReading
	}
	powerText := strings.TrimSpace(doc.Find(".messageValue").First().Text())
	tempText := strings.TrimSpace(doc.Find(".messageTemp").First().Text())
	if powerText == "" || tempText == "" {
		return nil, ErrNoReading
	}

	power, err := parseNumber(powerText)
	if err != nil {
		return nil, fmt.Errorf("%w: bad power value %q", ErrNoReading, powerText)
	}
	temp, err := parseNumber(tempText)
	if err != nil {
		return nil, fmt.Errorf("%w: bad temperature value %q", ErrNoReading, tempText)
	}

	return &models.Reading{
		ScrapedAt:    capturedAt.UTC(),
		DateID:       header[0],
		DisplayTime:  header[1],
		PowerMW:      power,
		TemperatureC: temp,
	}, nil
}

// parseNumber reads the first number in s after dropping thousands
// separators, so "28,123.5 MW" and "31.2°C" both parse.
func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(s, ",", "")
	n := numberPattern.FindString(s)
	if n == "" {
		return 0, fmt.Errorf("no number in %q", s)
	}
	return strconv.ParseFloat(n, 64)
}
