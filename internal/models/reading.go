package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Reading represents one sample scraped from the EGAT real-time dashboard.
//
// A zero ScrapedAt, an empty string or a NaN float marks a missing value. Rows
// written by this system are always complete, but tables read back from the
// store may carry nulls from other writers.
type Reading struct {
	ScrapedAt    time.Time
	DateID       string
	DisplayTime  string
	PowerMW      float64
	TemperatureC float64
}

// Key identifies a reading by what the source page displayed.
type Key struct {
	DateID      string
	DisplayTime string
}

func (k Key) String() string {
	return k.DateID + " " + k.DisplayTime
}

// ColumnCount is the number of stored columns per reading.
const ColumnCount = 5

// NewReading creates a new Reading captured now.
func NewReading(dateID, displayTime string, powerMW, temperatureC float64) *Reading {
	return &Reading{
		ScrapedAt:    time.Now().UTC(),
		DateID:       dateID,
		DisplayTime:  displayTime,
		PowerMW:      powerMW,
		TemperatureC: temperatureC,
	}
}

// Key returns the (date id, time) pair used for dedupe.
func (r *Reading) Key() Key {
	return Key{DateID: r.DateID, DisplayTime: r.DisplayTime}
}

// IsValid checks that every column is present and the values are plausible.
func (r *Reading) IsValid() bool {
	const (
		minTemp = -50.0
		maxTemp = 70.0
	)

	if r.ScrapedAt.IsZero() {
		return false
	}
	if r.DateID == "" || r.DisplayTime == "" {
		return false
	}
	if math.IsNaN(r.PowerMW) || math.IsInf(r.PowerMW, 0) || r.PowerMW < 0 {
		return false
	}
	if math.IsNaN(r.TemperatureC) || r.TemperatureC < minTemp || r.TemperatureC > maxTemp {
		return false
	}
	return true
}

// NonNullCount returns how many of the stored columns hold a value.
// An empty string is missing; the table writes it as null.
func (r *Reading) NonNullCount() int {
	n := 0
	if !r.ScrapedAt.IsZero() {
		n++
	}
	if r.DateID != "" {
		n++
	}
	if r.DisplayTime != "" {
		n++
	}
	if !math.IsNaN(r.PowerMW) {
		n++
	}
	if !math.IsNaN(r.TemperatureC) {
		n++
	}
	return n
}

// Equal reports whether two readings hold the same values in every column.
// Two missing values compare equal.
func (r *Reading) Equal(o *Reading) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.ScrapedAt.Equal(o.ScrapedAt) &&
		r.DateID == o.DateID &&
		r.DisplayTime == o.DisplayTime &&
		floatEqual(r.PowerMW, o.PowerMW) &&
		floatEqual(r.TemperatureC, o.TemperatureC)
}

func floatEqual(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}

// String returns a one-line description for logs.
func (r *Reading) String() string {
	return fmt.Sprintf("Date: %s, Time: %s, Power: %.1fMW, Temperature: %.1f°C, Scraped: %s",
		r.DateID,
		r.DisplayTime,
		r.PowerMW,
		r.TemperatureC,
		r.ScrapedAt.Format(time.RFC3339))
}

// Copy returns a copy of the Reading
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

type readingJSON struct {
	ScrapedAt    *time.Time `json:"scrape_timestamp_utc"`
	DateID       string     `json:"display_date_id"`
	DisplayTime  string     `json:"display_time"`
	PowerMW      *float64   `json:"current_value_MW"`
	TemperatureC *float64   `json:"temperature_C"`
}

// MarshalJSON writes missing values as null; encoding/json rejects NaN.
func (r Reading) MarshalJSON() ([]byte, error) {
	out := readingJSON{
		DateID:      r.DateID,
		DisplayTime: r.DisplayTime,
	}
	if !r.ScrapedAt.IsZero() {
		ts := r.ScrapedAt
		out.ScrapedAt = &ts
	}
	if !math.IsNaN(r.PowerMW) {
		p := r.PowerMW
		out.PowerMW = &p
	}
	if !math.IsNaN(r.TemperatureC) {
		t := r.TemperatureC
		out.TemperatureC = &t
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var in readingJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Reading{
		DateID:       in.DateID,
		DisplayTime:  in.DisplayTime,
		PowerMW:      math.NaN(),
		TemperatureC: math.NaN(),
	}
	if in.ScrapedAt != nil {
		r.ScrapedAt = *in.ScrapedAt
	}
	if in.PowerMW != nil {
		r.PowerMW = *in.PowerMW
	}
	if in.TemperatureC != nil {
		r.TemperatureC = *in.TemperatureC
	}
	return nil
}
