// Package movement detects abnormal midpoint and volume shifts from a market's
// recent candlestick history.
package movement

import (
	"fmt"
	"math"

	"github.com/rewired-gh/kalshioracle/internal/models"
)

// volumeMagnitudeScale maps a volume ratio onto the cents scale used by
// price moves so both kinds of alert rank against each other.
const volumeMagnitudeScale = 5

// minSpikeCandles is the least history that can be split into two halves worth comparing.
const minSpikeCandles = 4

// Thresholds configures DetectMovements.
type Thresholds struct {
	ShortMinutes     int
	ShortCents       float64
	LongHours        int
	LongCents        float64
	VolumeMultiplier float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ShortMinutes:     30,
		ShortCents:       5,
		LongHours:        2,
		LongCents:        10,
		VolumeMultiplier: 2.0,
	}
}

// CandleMidpoint returns the midpoint of a candle's closing bid and ask.
func CandleMidpoint(c models.Candle) (float64, bool) {
	if c.YesBidClose == nil || c.YesAskClose == nil {
		return 0, false
	}
	return (*c.YesBidClose + *c.YesAskClose) / 2.0, true
}

// NearestCandle returns the candle whose end timestamp is closest to targetTS.
// The earliest candle in input order wins ties.
func NearestCandle(candles []models.Candle, targetTS int64) (models.Candle, bool) {
	if len(candles) == 0 {
		return models.Candle{}, false
	}
	best := 0
	bestDist := absInt64(candles[0].EndPeriodTS - targetTS)
	for i := 1; i < len(candles); i++ {
		if d := absInt64(candles[i].EndPeriodTS - targetTS); d < bestDist {
			best, bestDist = i, d
		}
	}
	return candles[best], true
}

// DetectMovements compares the snapshot's live midpoint with the candle
// history and flags short-term moves, long-term moves, and volume spikes.
// ok is false when nothing crossed a threshold.
func DetectMovements(snap models.MarketSnapshot, candles []models.Candle, th Thresholds) (*models.MovementAlert, bool) {
	if len(candles) == 0 || !snap.HasTwoSidedPricing() {
		return nil, false
	}

	currentMid := snap.Midpoint()
	currentTS := candles[0].EndPeriodTS
	for _, c := range candles[1:] {
		if c.EndPeriodTS > currentTS {
			currentTS = c.EndPeriodTS
		}
	}

	alerts := make([]string, 0, 3)
	var magnitude float64

	checkMove := func(lookbackSeconds int64, threshold float64, window string) {
		c, ok := NearestCandle(candles, currentTS-lookbackSeconds)
		if !ok {
			return
		}
		past, ok := CandleMidpoint(c)
		if !ok {
			return
		}
		move := currentMid - past
		if math.Abs(move) < threshold {
			return
		}
		alerts = append(alerts, fmt.Sprintf("price %s¢ in %s", formatMove(move), window))
		magnitude = math.Max(magnitude, math.Abs(move))
	}

	checkMove(int64(th.ShortMinutes)*60, th.ShortCents, fmt.Sprintf("%dm", th.ShortMinutes))
	checkMove(int64(th.LongHours)*3600, th.LongCents, fmt.Sprintf("%dh", th.LongHours))

	if ratio, ok := volumeRatio(candles); ok && ratio >= th.VolumeMultiplier {
		alerts = append(alerts, fmt.Sprintf("volume spike %.1fx", ratio))
		magnitude = math.Max(magnitude, ratio*volumeMagnitudeScale)
	}

	if len(alerts) == 0 {
		return nil, false
	}

	snap = snap.Normalize()
	return &models.MovementAlert{
		Ticker:       snap.Ticker,
		SeriesTicker: snap.SeriesTicker(),
		EventTicker:  snap.EventTicker,
		Title:        snap.Title,
		Subtitle:     snap.Subtitle,
		YesBid:       snap.YesBid,
		YesAsk:       snap.YesAsk,
		Midpoint:     currentMid,
		Volume24h:    snap.Volume24h,
		Alerts:       alerts,
		Magnitude:    magnitude,
		CloseTime:    snap.CloseTime,
	}, true
}

// volumeRatio splits candles at len/2 and returns recent volume over earlier
// volume. The earlier sum is floored at 1.
func volumeRatio(candles []models.Candle) (float64, bool) {
	if len(candles) < minSpikeCandles {
		return 0, false
	}
	mid := len(candles) / 2
	var earlier, recent int64
	for _, c := range candles[:mid] {
		earlier += c.Volume
	}
	for _, c := range candles[mid:] {
		recent += c.Volume
	}
	if earlier < 1 {
		earlier = 1
	}
	return float64(recent) / float64(earlier), true
}

func formatMove(move float64) string {
	if move > 0 {
		return fmt.Sprintf("+%.0f", move)
	}
	return fmt.Sprintf("%.0f", move)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
