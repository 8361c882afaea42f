package models

import "time"

// MarketSignal is the anomaly assessment of one snapshot.
type MarketSignal struct {
	Ticker       string   `json:"ticker"`
	Title        string   `json:"title"`
	Category     string   `json:"category"`
	EventTicker  string   `json:"event_ticker"`
	Subtitle     string   `json:"subtitle,omitempty"`
	YesBid       float64  `json:"yes_bid"`
	YesAsk       float64  `json:"yes_ask"`
	NoBid        float64  `json:"no_bid"`
	NoAsk        float64  `json:"no_ask"`
	Volume24h    int64    `json:"volume_24h"`
	OpenInterest int64    `json:"open_interest"`
	Spread       float64  `json:"spread"`
	Midpoint     float64  `json:"midpoint"`
	Skew         float64  `json:"skew"`
	AnomalyScore float64  `json:"anomaly_score"`
	Flags        []string `json:"flags"`
	CloseTime    string   `json:"close_time,omitempty"`
}

// MovementAlert flags a significant midpoint or volume shift in one market.
// Magnitude is only meaningful for ranking alerts against each other.
type MovementAlert struct {
	Ticker       string   `json:"ticker"`
	SeriesTicker string   `json:"series_ticker"`
	EventTicker  string   `json:"event_ticker"`
	Title        string   `json:"title"`
	Subtitle     string   `json:"subtitle"`
	YesBid       float64  `json:"yes_bid"`
	YesAsk       float64  `json:"yes_ask"`
	Midpoint     float64  `json:"midpoint"`
	Volume24h    int64    `json:"volume_24h"`
	Alerts       []string `json:"alerts"`
	Magnitude    float64  `json:"magnitude"`
	CloseTime    string   `json:"close_time"`
}

// FixtureGroup collects movement alerts on markets about the same fixture.
type FixtureGroup struct {
	FixtureKey    string
	Title         string
	BestMagnitude float64
	Alerts        []MovementAlert
}

// StoredSignal is a MarketSignal as recorded by a scan run.
type StoredSignal struct {
	ID        string
	RunID     string
	ScannedAt time.Time
	Signal    MarketSignal
}

// StoredAlert is a MovementAlert as recorded by a monitor cycle.
type StoredAlert struct {
	ID         string
	DetectedAt time.Time
	Notified   bool
	Alert      MovementAlert
}
