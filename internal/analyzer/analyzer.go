// Package analyzer scores market snapshots for liquidity and pricing anomalies.
//
// The anomaly score is a 0-1 composite of three sub-scores:
//   - spread: bid/ask spread relative to the midpoint
//   - liquidity: thin 24h volume and open interest
//   - skew: yes_bid + no_ask drifting away from 100
package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/sourcegraph/conc/pool"

	"github.com/rewired-gh/kalshioracle/internal/models"
)

const (
	spreadWeight    = 0.40
	liquidityWeight = 0.35
	skewWeight      = 0.25

	wideSpreadCents = 10
	skewFlagCents   = 5

	DefaultVolumeThreshold = 500
)

// Options controls which scored markets FindAnomalies keeps.
type Options struct {
	MinScore        float64
	VolumeThreshold int64
	SpreadThreshold float64
	MinVolume       int64
}

func DefaultOptions() Options {
	return Options{
		MinScore:        0.5,
		VolumeThreshold: DefaultVolumeThreshold,
		SpreadThreshold: 10,
		MinVolume:       1,
	}
}

// SpreadScore saturates once the spread reaches half the midpoint.
func SpreadScore(spread, midpoint float64) float64 {
	if midpoint <= 0 {
		return 0
	}
	relative := spread / math.Max(midpoint, 1)
	return clamp01(relative / 0.5)
}

// LiquidityScore is higher for lower volume and open interest.
// maxVol normalizes volume; open interest is normalized against 5*maxVol.
func LiquidityScore(volume24h, openInterest, maxVol int64) float64 {
	volScore := 1.0 - math.Min(float64(volume24h)/math.Max(float64(maxVol), 1), 1.0)
	oiScore := 1.0 - math.Min(float64(openInterest)/math.Max(float64(maxVol*5), 1), 1.0)
	return 0.6*volScore + 0.4*oiScore
}

// SkewScore saturates at a 20 cent gap between yes_bid + no_ask and 100.
func SkewScore(yesBid, noAsk float64) float64 {
	gap := math.Abs(yesBid + noAsk - 100)
	return math.Min(gap/20.0, 1.0)
}

// CompositeScore combines the sub-scores and rounds to 3 decimals.
func CompositeScore(spread, liquidity, skew float64) float64 {
	s := spreadWeight*spread + liquidityWeight*liquidity + skewWeight*skew
	return math.Round(s*1000) / 1000
}

// ScoreMarket returns the anomaly signal for one snapshot. ok is false when
// the market lacks an ask on either side.
func ScoreMarket(snap models.MarketSnapshot, volumeThreshold int64) (*models.MarketSignal, bool) {
	snap = snap.Normalize()
	if !snap.HasTwoSidedPricing() {
		return nil, false
	}

	spread := snap.Spread()
	midpoint := snap.Midpoint()
	skew := snap.Skew()

	score := CompositeScore(
		SpreadScore(spread, midpoint),
		LiquidityScore(snap.Volume24h, snap.OpenInterest, volumeThreshold),
		SkewScore(snap.YesBid, snap.NoAsk),
	)

	flags := make([]string, 0, 3)
	if spread >= wideSpreadCents {
		flags = append(flags, fmt.Sprintf("wide-spread (%s)", formatCents(spread)))
	}
	if snap.Volume24h <= volumeThreshold {
		flags = append(flags, fmt.Sprintf("low-volume (%d)", snap.Volume24h))
	}
	if skew >= skewFlagCents {
		flags = append(flags, fmt.Sprintf("price-skew (%.1f¢ gap)", skew))
	}

	title := snap.Title
	if title == "" {
		title = snap.Ticker
	}

	return &models.MarketSignal{
		Ticker:       snap.Ticker,
		Title:        title,
		Category:     snap.Category,
		EventTicker:  snap.EventTicker,
		Subtitle:     snap.Subtitle,
		YesBid:       snap.YesBid,
		YesAsk:       snap.YesAsk,
		NoBid:        snap.NoBid,
		NoAsk:        snap.NoAsk,
		Volume24h:    snap.Volume24h,
		OpenInterest: snap.OpenInterest,
		Spread:       spread,
		Midpoint:     midpoint,
		Skew:         skew,
		AnomalyScore: score,
		Flags:        flags,
		CloseTime:    snap.CloseTime,
	}, true
}

// FindAnomalies scores every snapshot and returns those worth reporting,
// highest score first. A market below opts.MinScore is still kept when its
// spread reaches opts.SpreadThreshold; such signals carry a "spread-threshold" flag.
func FindAnomalies(snaps []models.MarketSnapshot, opts Options) []models.MarketSignal {
	signals := make([]models.MarketSignal, 0)
	for _, snap := range snaps {
		if sig, ok := selectSignal(snap, opts); ok {
			signals = append(signals, *sig)
		}
	}
	sortByScore(signals)
	return signals
}

// ScoreAll is FindAnomalies spread over up to workers goroutines. The result
// is identical to FindAnomalies for the same input.
func ScoreAll(ctx context.Context, snaps []models.MarketSnapshot, opts Options, workers int) ([]models.MarketSignal, error) {
	if workers < 1 {
		workers = 1
	}
	type indexed struct {
		idx int
		sig *models.MarketSignal
	}

	p := pool.NewWithResults[indexed]().WithContext(ctx).WithMaxGoroutines(workers)
	for i := range snaps {
		p.Go(func(ctx context.Context) (indexed, error) {
			if err := ctx.Err(); err != nil {
				return indexed{}, err
			}
			sig, ok := selectSignal(snaps[i], opts)
			if !ok {
				return indexed{idx: i}, nil
			}
			return indexed{idx: i, sig: sig}, nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(a, b int) bool { return results[a].idx < results[b].idx })
	signals := make([]models.MarketSignal, 0, len(results))
	for _, r := range results {
		if r.sig != nil {
			signals = append(signals, *r.sig)
		}
	}
	sortByScore(signals)
	return signals, nil
}

func selectSignal(snap models.MarketSnapshot, opts Options) (*models.MarketSignal, bool) {
	sig, ok := ScoreMarket(snap, opts.VolumeThreshold)
	if !ok {
		return nil, false
	}
	if sig.Volume24h < opts.MinVolume {
		return nil, false
	}
	if sig.AnomalyScore >= opts.MinScore {
		return sig, true
	} else if sig.Spread >= opts.SpreadThreshold {
		sig.Flags = append(sig.Flags, "spread-threshold")
		return sig, true
	}
	return nil, false
}

func sortByScore(signals []models.MarketSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].AnomalyScore > signals[j].AnomalyScore
	})
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}

// formatCents prints whole-cent quotes without a fractional part.
func formatCents(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
