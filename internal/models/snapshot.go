package models

import "time"

// Snapshot is everything the dashboard renders for one refresh.
type Snapshot struct {
	Latest        *Reading        `json:"latest,omitempty"`
	LatestAnomaly bool            `json:"latest_anomaly"`
	Chart         []Reading       `json:"chart"`
	Anomalies     []bool          `json:"anomalies"`
	Forecast      []ForecastPoint `json:"forecast,omitempty"`
	Stats         SnapshotStats   `json:"stats"`
	Recent        []RecentRow     `json:"recent"`
	TotalRows     int             `json:"total_rows"`
	Contamination float64         `json:"contamination"`
	RefreshedAt   time.Time       `json:"refreshed_at"`
}

// SnapshotStats summarises the charted window.
type SnapshotStats struct {
	AnomalyCount int     `json:"anomaly_count"`
	AnomalyRate  float64 `json:"anomaly_rate"`
	AvgPowerMW   float64 `json:"avg_power_mw"`
	PeakPowerMW  float64 `json:"peak_power_mw"`
}

// RecentRow is one line of the "latest readings" table.
type RecentRow struct {
	Reading Reading `json:"reading"`
	Anomaly bool    `json:"anomaly"`
}

// ForecastPoint is a predicted power value at an estimated capture time.
type ForecastPoint struct {
	At      time.Time `json:"at"`
	PowerMW float64   `json:"power_mw"`
}
