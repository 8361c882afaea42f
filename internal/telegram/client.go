// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/kalshioracle/internal/logger"
	"github.com/rewired-gh/kalshioracle/internal/models"
	"github.com/rewired-gh/kalshioracle/internal/report"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	now            func() time.Time
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		now:            time.Now,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	if reply := commandReply(msg.Command()); reply != "" {
		if _, err := c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
			logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
		}
	}
}

func commandReply(command string) string {
	switch command {
	case "ping":
		return "Pong"
	case "help":
		return "Kalshi oracle bot. Movement alerts are pushed automatically.\n/ping checks the bot is alive."
	}
	return ""
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendMovements sends one message covering the given fixture groups.
func (c *Client) SendMovements(groups []models.FixtureGroup) error {
	if len(groups) == 0 {
		return nil
	}
	return c.sendMarkdownV2(formatMovements(groups, c.now()))
}

// SendSignals sends the highest-ranked anomaly signals of a scan.
func (c *Client) SendSignals(signals []models.MarketSignal) error {
	if len(signals) == 0 {
		return nil
	}
	return c.sendMarkdownV2(formatSignals(signals, c.now()))
}

// formatMovements formats fixture groups into a Telegram MarkdownV2 message.
func formatMovements(groups []models.FixtureGroup, now time.Time) string {
	var b strings.Builder
	b.WriteString("🚨 *Notable Kalshi Movements*\n\n")
	fmt.Fprintf(&b, "📅 Detected: %s\n\n", escapeMarkdownV2(now.UTC().Format("2006-01-02 15:04 UTC")))

	for i, group := range groups {
		url := report.MarketURL(group.Alerts[0].EventTicker, group.Alerts[0].Ticker)
		fmt.Fprintf(&b, "%d\\. [%s](%s)\n", i+1, escapeMarkdownV2(group.Title), url)

		for _, alert := range group.Alerts {
			if alert.Subtitle != "" && alert.Subtitle != group.Title {
				fmt.Fprintf(&b, "   🎯 %s\n", escapeMarkdownV2(alert.Subtitle))
			}
			fmt.Fprintf(&b, "   %s *%s* \\(mid %s\\)\n",
				directionEmoji(alert.Alerts),
				escapeMarkdownV2(strings.Join(alert.Alerts, ", ")),
				escapeMarkdownV2(fmt.Sprintf("%.1f¢", alert.Midpoint)),
			)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// formatSignals formats ranked anomaly signals into a Telegram MarkdownV2 message.
func formatSignals(signals []models.MarketSignal, now time.Time) string {
	var b strings.Builder
	b.WriteString("🔎 *Kalshi Anomaly Scan*\n\n")
	fmt.Fprintf(&b, "📅 Scanned: %s\n\n", escapeMarkdownV2(now.UTC().Format("2006-01-02 15:04 UTC")))

	for i, s := range signals {
		url := report.MarketURL(s.EventTicker, s.Ticker)
		fmt.Fprintf(&b, "%d\\. [%s](%s)\n", i+1, escapeMarkdownV2(s.Title), url)
		fmt.Fprintf(&b, "   score *%s* · %s\n",
			escapeMarkdownV2(fmt.Sprintf("%.2f", s.AnomalyScore)),
			escapeMarkdownV2(fmt.Sprintf("%.0f¢/%.0f¢, vol %d", s.YesBid, s.YesAsk, s.Volume24h)),
		)
		if len(s.Flags) > 0 {
			fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(strings.Join(s.Flags, ", ")))
		}
	}
	return b.String()
}

// directionEmoji picks an arrow from the first price alert; volume-only
// alerts get a neutral marker.
func directionEmoji(alerts []string) string {
	for _, a := range alerts {
		switch {
		case strings.HasPrefix(a, "price +"):
			return "📈"
		case strings.HasPrefix(a, "price -"):
			return "📉"
		}
	}
	return "📊"
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
