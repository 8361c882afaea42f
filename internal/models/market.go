// Package models defines the core domain entities: market snapshots, candles,
// anomaly signals, and movement alerts.
package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// MarketSnapshot is a point-in-time quote for a single binary Kalshi market.
// Quotes are in cents (0-100). Fields missing or null in the upstream payload
// decode to their zero value, which is the documented default for every field.
type MarketSnapshot struct {
	Ticker       string  `json:"ticker"`
	Title        string  `json:"title"`
	Category     string  `json:"category"`
	EventTicker  string  `json:"event_ticker"`
	Subtitle     string  `json:"subtitle,omitempty"`
	YesBid       float64 `json:"yes_bid"`
	YesAsk       float64 `json:"yes_ask"`
	NoBid        float64 `json:"no_bid"`
	NoAsk        float64 `json:"no_ask"`
	Volume24h    int64   `json:"volume_24h"`
	OpenInterest int64   `json:"open_interest"`
	CloseTime    string  `json:"close_time,omitempty"`
}

// Normalize clamps negative counters to zero.
func (m MarketSnapshot) Normalize() MarketSnapshot {
	if m.Volume24h < 0 {
		m.Volume24h = 0
	}
	if m.OpenInterest < 0 {
		m.OpenInterest = 0
	}
	return m
}

// HasTwoSidedPricing reports whether both the yes and no sides carry an ask.
// Markets without it are never scored or alerted on.
func (m MarketSnapshot) HasTwoSidedPricing() bool {
	return m.YesAsk > 0 && m.NoAsk > 0
}

func (m MarketSnapshot) Spread() float64 {
	return m.YesAsk - m.YesBid
}

func (m MarketSnapshot) Midpoint() float64 {
	return (m.YesBid + m.YesAsk) / 2.0
}

// Skew is the distance of yes_bid + no_ask from 100; a consistent book sums to 100.
func (m MarketSnapshot) Skew() float64 {
	return math.Abs(m.YesBid + m.NoAsk - 100)
}

// SeriesTicker returns the event ticker truncated at its first '-'.
func (m MarketSnapshot) SeriesTicker() string {
	return SeriesOf(m.EventTicker)
}

// SeriesOf returns the series part of an event ticker ("KXEPLGAME-25OCT18ARSFUL" -> "KXEPLGAME").
func SeriesOf(eventTicker string) string {
	if i := strings.IndexByte(eventTicker, '-'); i >= 0 {
		return eventTicker[:i]
	}
	return eventTicker
}

// FixtureOf returns the event ticker with its series prefix stripped. Markets
// from different series about the same fixture share this key.
func FixtureOf(eventTicker string) string {
	if i := strings.IndexByte(eventTicker, '-'); i >= 0 {
		return eventTicker[i+1:]
	}
	return eventTicker
}

// CloseAt parses CloseTime. ok is false when it is empty or malformed.
func (m MarketSnapshot) CloseAt() (time.Time, bool) {
	if m.CloseTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, m.CloseTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ClosesWithin reports whether the market closes no later than now+d.
// Markets without a parseable close time never qualify.
func (m MarketSnapshot) ClosesWithin(now time.Time, d time.Duration) bool {
	t, ok := m.CloseAt()
	if !ok {
		return false
	}
	return !t.After(now.Add(d))
}

// Validate checks snapshot field constraints.
func (m *MarketSnapshot) Validate() error {
	if m.Ticker == "" {
		return errors.New("market ticker must not be empty")
	}
	for _, q := range []float64{m.YesBid, m.YesAsk, m.NoBid, m.NoAsk} {
		if q < 0 || q > 100 {
			return errors.New("quotes must be between 0 and 100 cents")
		}
	}
	if m.Volume24h < 0 {
		return errors.New("volume 24h must not be negative")
	}
	if m.OpenInterest < 0 {
		return errors.New("open interest must not be negative")
	}
	return nil
}

// Candle is one fixed-period aggregate of a market's yes-side quotes.
// A nil close means the side had no quote during the period.
type Candle struct {
	EndPeriodTS int64    `json:"end_period_ts"`
	YesBidClose *float64 `json:"yes_bid_close,omitempty"`
	YesAskClose *float64 `json:"yes_ask_close,omitempty"`
	Volume      int64    `json:"volume"`
}
