package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/kalshioracle/internal/models"
)

func snapshot(ticker string, yesBid, yesAsk, noBid, noAsk float64, vol, oi int64) models.MarketSnapshot {
	return models.MarketSnapshot{
		Ticker:       ticker,
		Title:        "Will " + ticker + " happen?",
		Category:     "Sports",
		EventTicker:  "KXTEST-" + ticker,
		YesBid:       yesBid,
		YesAsk:       yesAsk,
		NoBid:        noBid,
		NoAsk:        noAsk,
		Volume24h:    vol,
		OpenInterest: oi,
		CloseTime:    "2025-10-20T15:00:00Z",
	}
}

func TestScoreMarket_ScenarioA(t *testing.T) {
	snap := snapshot("A", 40, 60, 35, 45, 10, 5)

	sig, ok := ScoreMarket(snap, 500)
	require.True(t, ok)
	require.NotNil(t, sig)

	assert.Equal(t, 20.0, sig.Spread)
	assert.Equal(t, 50.0, sig.Midpoint)
	// |40 + 45 - 100|
	assert.Equal(t, 15.0, sig.Skew)
	assert.InDelta(t, 0.8, SpreadScore(sig.Spread, sig.Midpoint), 1e-9)
	assert.InDelta(t, 0.9872, LiquidityScore(10, 5, 500), 1e-9)
	assert.InDelta(t, 0.75, SkewScore(40, 45), 1e-9)
	assert.Equal(t, 0.853, sig.AnomalyScore)
	assert.Equal(t, []string{"wide-spread (20)", "low-volume (10)", "price-skew (15.0¢ gap)"}, sig.Flags)
	assert.Equal(t, snap.CloseTime, sig.CloseTime)
	assert.Equal(t, snap.EventTicker, sig.EventTicker)
}

func TestScoreMarket_AbsentIffOneSided(t *testing.T) {
	tests := []struct {
		name   string
		yesAsk float64
		noAsk  float64
		want   bool
	}{
		{"both sides", 55, 47, true},
		{"no yes ask", 0, 47, false},
		{"no no ask", 55, 0, false},
		{"neither", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := ScoreMarket(snapshot("T", 50, tt.yesAsk, 40, tt.noAsk, 100, 100), 500)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.want, sig != nil)
		})
	}
}

func TestScoreMarket_ScoreWithinUnitInterval(t *testing.T) {
	for yesBid := 0.0; yesBid <= 100; yesBid += 7 {
		for yesAsk := 1.0; yesAsk <= 100; yesAsk += 9 {
			for noAsk := 1.0; noAsk <= 100; noAsk += 11 {
				for _, vol := range []int64{0, 1, 250, 500, 10000} {
					sig, ok := ScoreMarket(snapshot("R", yesBid, yesAsk, 0, noAsk, vol, vol*3), 500)
					require.True(t, ok)
					if sig.AnomalyScore < 0 || sig.AnomalyScore > 1 {
						t.Fatalf("score %v out of range for bid=%v ask=%v noAsk=%v vol=%d",
							sig.AnomalyScore, yesBid, yesAsk, noAsk, vol)
					}
				}
			}
		}
	}
}

func TestSpreadScore(t *testing.T) {
	assert.Equal(t, 0.0, SpreadScore(10, 0))
	assert.Equal(t, 0.0, SpreadScore(10, -5))

	prev := -1.0
	for spread := 0.0; spread <= 60; spread++ {
		got := SpreadScore(spread, 40)
		assert.GreaterOrEqual(t, got, prev, "spread score must not decrease at spread=%v", spread)
		prev = got
		if spread >= 20 {
			assert.Equal(t, 1.0, got, "spread=%v should saturate", spread)
		}
	}
}

func TestSkewScore(t *testing.T) {
	tests := []struct {
		yesBid, noAsk float64
		want          float64
	}{
		{50, 50, 0},
		{40, 50, 0.5},
		{30, 50, 1.0},
		{10, 50, 1.0},
		{70, 50, 1.0},
		{55, 50, 0.25},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v+%v", tt.yesBid, tt.noAsk), func(t *testing.T) {
			assert.InDelta(t, tt.want, SkewScore(tt.yesBid, tt.noAsk), 1e-9)
		})
	}
}

func TestLiquidityScore(t *testing.T) {
	assert.InDelta(t, 1.0, LiquidityScore(0, 0, 500), 1e-9)
	assert.InDelta(t, 0.0, LiquidityScore(500, 2500, 500), 1e-9)
	assert.InDelta(t, 0.0, LiquidityScore(10000, 100000, 500), 1e-9)
	// zero threshold normalizes against 1
	assert.InDelta(t, 0.0, LiquidityScore(1, 1, 0), 1e-9)
}

func TestScoreMarket_FlagsIndependent(t *testing.T) {
	sig, ok := ScoreMarket(snapshot("Q", 49, 51, 49, 51, 10000, 10000), 500)
	require.True(t, ok)
	assert.Empty(t, sig.Flags)
	assert.NotNil(t, sig.Flags)

	sig, ok = ScoreMarket(snapshot("Q", 30, 50, 49, 51, 10000, 10000), 500)
	require.True(t, ok)
	assert.Equal(t, []string{"wide-spread (20)", "price-skew (19.0¢ gap)"}, sig.Flags)
}

func TestScoreMarket_TitleFallsBackToTicker(t *testing.T) {
	snap := snapshot("NOTITLE", 40, 60, 35, 45, 10, 5)
	snap.Title = ""
	sig, ok := ScoreMarket(snap, 500)
	require.True(t, ok)
	assert.Equal(t, "NOTITLE", sig.Title)
}

func TestFindAnomalies_Selection(t *testing.T) {
	snaps := []models.MarketSnapshot{
		// high score
		snapshot("HIGH", 40, 60, 35, 45, 10, 5),
		// low score, wide spread: kept via spread fallback
		snapshot("WIDE", 80, 92, 8, 20, 100000, 100000),
		// low score, tight spread: dropped
		snapshot("TIGHT", 49, 51, 49, 51, 100000, 100000),
		// high score but no volume: dropped
		snapshot("DEAD", 10, 60, 35, 45, 0, 0),
		// one-sided: dropped
		snapshot("ONESIDED", 10, 0, 35, 45, 10, 5),
	}

	got := FindAnomalies(snaps, DefaultOptions())
	require.Len(t, got, 2)
	assert.Equal(t, "HIGH", got[0].Ticker)
	assert.NotContains(t, got[0].Flags, "spread-threshold")
	assert.Equal(t, "WIDE", got[1].Ticker)
	assert.Equal(t, "spread-threshold", got[1].Flags[len(got[1].Flags)-1])
}

func TestFindAnomalies_StableDescending(t *testing.T) {
	snaps := []models.MarketSnapshot{
		snapshot("A1", 40, 60, 35, 45, 10, 5),
		snapshot("B", 20, 60, 35, 45, 10, 5),
		snapshot("A2", 40, 60, 35, 45, 10, 5),
		snapshot("C", 45, 60, 35, 45, 300, 5),
		snapshot("A3", 40, 60, 35, 45, 10, 5),
	}

	got := FindAnomalies(snaps, Options{MinScore: 0, VolumeThreshold: 500, SpreadThreshold: 10, MinVolume: 1})
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].AnomalyScore, got[i].AnomalyScore)
	}

	var ties []string
	for _, s := range got {
		if s.Ticker[0] == 'A' {
			ties = append(ties, s.Ticker)
		}
	}
	assert.Equal(t, []string{"A1", "A2", "A3"}, ties)
}

func TestFindAnomalies_Empty(t *testing.T) {
	got := FindAnomalies(nil, DefaultOptions())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFindAnomalies_FreshFlagSlices(t *testing.T) {
	snaps := []models.MarketSnapshot{
		snapshot("W1", 80, 92, 8, 20, 100000, 100000),
		snapshot("W2", 80, 92, 8, 20, 100000, 100000),
	}
	got := FindAnomalies(snaps, DefaultOptions())
	require.Len(t, got, 2)
	got[0].Flags[0] = "mutated"
	assert.NotEqual(t, "mutated", got[1].Flags[0])
}

func TestScoreAll_MatchesFindAnomalies(t *testing.T) {
	var snaps []models.MarketSnapshot
	for i := 0; i < 200; i++ {
		bid := float64(i % 50)
		snaps = append(snaps, snapshot(fmt.Sprintf("M%03d", i), bid, bid+float64(i%23)+1, 0, float64(100-i%40), int64(i*7%900), int64(i*13%3000)))
	}

	want := FindAnomalies(snaps, DefaultOptions())
	got, err := ScoreAll(context.Background(), snaps, DefaultOptions(), 8)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScoreAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ScoreAll(ctx, []models.MarketSnapshot{snapshot("A", 40, 60, 35, 45, 10, 5)}, DefaultOptions(), 2)
	assert.Error(t, err)
}

func TestMarketSignal_JSONRoundTrip(t *testing.T) {
	sig, ok := ScoreMarket(snapshot("RT", 40, 60, 35, 45, 10, 5), 500)
	require.True(t, ok)
	sig.Flags = append(sig.Flags, "spread-threshold")

	data, err := json.Marshal(sig)
	require.NoError(t, err)

	var back models.MarketSignal
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *sig, back)
}

func TestScoreMarket_SkewFlagBoundary(t *testing.T) {
	sig, ok := ScoreMarket(snapshot("SK", 40, 42, 55, 55, 10000, 10000), 500)
	require.True(t, ok)
	assert.Equal(t, []string{"price-skew (5.0¢ gap)"}, sig.Flags)

	sig, ok = ScoreMarket(snapshot("SK", 40, 42, 56, 56, 10000, 10000), 500)
	require.True(t, ok)
	assert.Empty(t, sig.Flags)
}
