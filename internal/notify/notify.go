// Package notify delivers newly fired breakout alerts to external channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"nifty-breakout/internal/config"
	"nifty-breakout/internal/logging"
	"nifty-breakout/internal/models"
	"nifty-breakout/pkg/utils"
)

const (
	defaultTimeout  = 10 * time.Second
	telegramBaseURL = "https://api.telegram.org"
)

// Notification is one rendered message.
type Notification struct {
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Channel is one delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// MultiNotifier fans a notification out to every channel. It implements the
// alert store's notifier hook.
type MultiNotifier struct {
	mu       sync.RWMutex
	channels []Channel
	logger   zerolog.Logger
}

// New builds a MultiNotifier with the channels enabled in cfg. A disabled
// config yields a notifier with no channels.
func New(cfg config.NotifyConfig, logger zerolog.Logger) *MultiNotifier {
	mn := &MultiNotifier{logger: logging.WithComponent(logger, "notify")}
	if !cfg.Enabled {
		return mn
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		mn.AddChannel(NewWebhookChannel(cfg.Webhook.URL, ""))
	}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		mn.AddChannel(NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.ChatID, ""))
	}
	return mn
}

// AddChannel adds a delivery channel.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the number of configured channels.
func (mn *MultiNotifier) Channels() int {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	return len(mn.channels)
}

// Send delivers n to every channel. Every channel is attempted; the
// failures are joined into one error.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if err := ch.Send(ctx, n); err != nil {
			mn.logger.Warn().Err(err).Str("channel", ch.Name()).Msg("Notification failed")
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// NotifyAlert renders and sends a breakout alert.
func (mn *MultiNotifier) NotifyAlert(ctx context.Context, alert models.Alert) error {
	if mn.Channels() == 0 {
		return nil
	}
	return mn.Send(ctx, AlertNotification(alert))
}

// AlertNotification renders a breakout alert.
func AlertNotification(alert models.Alert) Notification {
	name := alert.Symbol
	if alert.Name != "" {
		name = fmt.Sprintf("%s (%s)", alert.Symbol, alert.Name)
	}

	message := fmt.Sprintf(
		"High: %.2f vs 5d high %.2f (%+.2f%%)\nVolume: %d vs 5d max %d (%+.2f%%)\nSource: %s\nTriggered: %s IST",
		alert.TodayHigh, alert.PrevMaxHigh, alert.HighBreakPercent,
		alert.TodayVolume, alert.PrevMaxVolume, alert.VolumeBreakPercent,
		alert.DataSource,
		alert.TriggeredAt.In(utils.IndiaLocation).Format("02-Jan-2006 15:04:05"),
	)

	return Notification{
		Title:   "Breakout: " + name,
		Message: message,
		Data: map[string]interface{}{
			"id":                 alert.ID,
			"symbol":             alert.Symbol,
			"alertType":          alert.AlertType,
			"dataSource":         alert.DataSource,
			"todayHigh":          alert.TodayHigh,
			"todayVolume":        alert.TodayVolume,
			"prevMaxHigh":        alert.PrevMaxHigh,
			"prevMaxVolume":      alert.PrevMaxVolume,
			"highBreakPercent":   alert.HighBreakPercent,
			"volumeBreakPercent": alert.VolumeBreakPercent,
			"tradingDate":        alert.TradingDate(),
		},
		Timestamp: alert.TriggeredAt,
	}
}

// WebhookChannel posts notifications as JSON.
type WebhookChannel struct {
	url    string
	client *resty.Client
}

// NewWebhookChannel creates a webhook channel. An empty userAgent uses the
// default.
func NewWebhookChannel(url, userAgent string) *WebhookChannel {
	if userAgent == "" {
		userAgent = "NiftyBreakout/1.0"
	}
	return &WebhookChannel{
		url: url,
		client: resty.New().
			SetTimeout(defaultTimeout).
			SetHeader("User-Agent", userAgent),
	}
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return "webhook" }

// Send implements Channel.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"type":      "breakout",
			"title":     n.Title,
			"message":   n.Message,
			"data":      n.Data,
			"timestamp": n.Timestamp.Format(time.RFC3339),
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("sending webhook: %s", logging.RedactError(err))
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

// TelegramChannel sends notifications through a Telegram bot.
type TelegramChannel struct {
	chatID string
	client *resty.Client
}

// NewTelegramChannel creates a Telegram channel. An empty baseURL uses the
// public bot API.
func NewTelegramChannel(botToken, chatID, baseURL string) *TelegramChannel {
	if baseURL == "" {
		baseURL = telegramBaseURL
	}
	return &TelegramChannel{
		chatID: chatID,
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/") + "/bot" + botToken).
			SetTimeout(defaultTimeout),
	}
}

// Name implements Channel.
func (t *TelegramChannel) Name() string { return "telegram" }

// Send implements Channel.
func (t *TelegramChannel) Send(ctx context.Context, n Notification) error {
	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("sending telegram message: %s", logging.RedactError(err))
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode())
	}
	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
