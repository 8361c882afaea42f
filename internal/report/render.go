// Package report renders anomaly signals and movement alerts for humans and
// writes them as dated line-delimited JSON files.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/rewired-gh/kalshioracle/internal/models"
)

const marketURLBase = "https://kalshi.com/markets/"

// Renderer prints ranked results to a console.
type Renderer interface {
	RenderSignals(w io.Writer, signals []models.MarketSignal, now time.Time) error
	RenderMovements(w io.Writer, groups []models.FixtureGroup, now time.Time) error
}

// NewRenderer picks a renderer by format. "auto" selects the table renderer
// when out is a terminal and the plain renderer otherwise.
func NewRenderer(format string, out *os.File) Renderer {
	switch format {
	case "table":
		return TableRenderer{}
	case "plain":
		return PlainRenderer{}
	}
	if out != nil && term.IsTerminal(int(out.Fd())) {
		return TableRenderer{}
	}
	return PlainRenderer{}
}

// MarketURL links to the event page, or the market page when no event is known.
func MarketURL(eventTicker, ticker string) string {
	if eventTicker != "" {
		return marketURLBase + eventTicker
	}
	return marketURLBase + ticker
}

func formatCents(v float64) string {
	return fmt.Sprintf("%.0f¢", v)
}

func stamp(now time.Time) string {
	return now.UTC().Format("2006-01-02 15:04 UTC")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// TableRenderer aligns columns with a tabwriter.
type TableRenderer struct{}

func (TableRenderer) RenderSignals(w io.Writer, signals []models.MarketSignal, now time.Time) error {
	fmt.Fprintf(w, "Kalshi Anomaly Scan — %s\n\n", stamp(now))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Score\tTicker\tBid/Ask (yes)\tSpread\tVol 24h\tFlags\tTitle")
	fmt.Fprintln(tw, "-----\t------\t-------------\t------\t-------\t-----\t-----")
	for _, s := range signals {
		flags := strings.Join(s.Flags, ", ")
		if flags == "" {
			flags = "—"
		}
		fmt.Fprintf(tw, "%.2f\t%s\t%s / %s\t%s\t%s\t%s\t%s\n",
			s.AnomalyScore,
			s.Ticker,
			formatCents(s.YesBid), formatCents(s.YesAsk),
			formatCents(s.Spread),
			humanize.Comma(s.Volume24h),
			flags,
			truncate(s.Title, 44),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d market(s) flagged\n", len(signals))
	return err
}

func (TableRenderer) RenderMovements(w io.Writer, groups []models.FixtureGroup, now time.Time) error {
	fmt.Fprintf(w, "Kalshi Movement Monitor — %s\n\n", stamp(now))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Fixture\tMarket\tMid\tBid/Ask\tVol 24h\tAlerts")
	fmt.Fprintln(tw, "-------\t------\t---\t-------\t-------\t------")
	total := 0
	for _, g := range groups {
		for i, a := range g.Alerts {
			fixture := ""
			if i == 0 {
				fixture = truncate(g.Title, 36)
			}
			market := a.Subtitle
			if market == "" {
				market = a.Ticker
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s / %s\t%s\t%s\n",
				fixture,
				truncate(market, 28),
				formatCents(a.Midpoint),
				formatCents(a.YesBid), formatCents(a.YesAsk),
				humanize.Comma(a.Volume24h),
				strings.Join(a.Alerts, ", "),
			)
			total++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d alert(s) across %d fixture(s)\n", total, len(groups))
	return err
}

// PlainRenderer writes fixed-width lines suitable for logs and pipes.
type PlainRenderer struct{}

func (PlainRenderer) RenderSignals(w io.Writer, signals []models.MarketSignal, now time.Time) error {
	fmt.Fprintf(w, "\n=== Kalshi Anomaly Scan %s ===\n", stamp(now))
	fmt.Fprintf(w, "%6s  %-24s  %12s  %7s  %6s  Flags\n", "Score", "Ticker", "Bid/Ask", "Spread", "Vol")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, s := range signals {
		fmt.Fprintf(w, "%6.2f  %-24s  %s/%6s  %7s  %6d  %s\n        %s\n",
			s.AnomalyScore,
			s.Ticker,
			formatCents(s.YesBid), formatCents(s.YesAsk),
			formatCents(s.Spread),
			s.Volume24h,
			strings.Join(s.Flags, ", "),
			MarketURL(s.EventTicker, s.Ticker),
		)
	}
	_, err := fmt.Fprintf(w, "\n%d market(s) flagged\n", len(signals))
	return err
}

func (PlainRenderer) RenderMovements(w io.Writer, groups []models.FixtureGroup, now time.Time) error {
	fmt.Fprintf(w, "\n=== Kalshi Movement Monitor %s ===\n", stamp(now))
	total := 0
	for _, g := range groups {
		fmt.Fprintf(w, "\n%s\n", g.Title)
		for _, a := range g.Alerts {
			label := a.Subtitle
			if label == "" {
				label = a.Ticker
			}
			fmt.Fprintf(w, "  %-28s  mid %s  (%s/%s)  %s\n",
				label,
				formatCents(a.Midpoint),
				formatCents(a.YesBid), formatCents(a.YesAsk),
				strings.Join(a.Alerts, ", "),
			)
			total++
		}
		fmt.Fprintf(w, "  %s\n", MarketURL(g.Alerts[0].EventTicker, g.Alerts[0].Ticker))
	}
	_, err := fmt.Fprintf(w, "\n%d alert(s) across %d fixture(s)\n", total, len(groups))
	return err
}
