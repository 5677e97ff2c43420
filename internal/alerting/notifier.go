package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind classifies a notification.
type Kind string

const (
	KindIntegrityFailure Kind = "integrity_failure"
	KindAnomaly          Kind = "anomaly"
	KindTopPrizeClaim    Kind = "top_prize_claim"
)

// Notification 封装告警上下文。
type Notification struct {
	At              time.Time
	RunID           string
	Kind            Kind
	Headline        string
	PreviousWealth  decimal.Decimal
	TotalWealth     decimal.Decimal
	WealthDeviation *decimal.Decimal
	ThresholdPct    decimal.Decimal
	Channels        []string
	Details         []string
	AdditionalMsg   string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Str("kind", string(note.Kind)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the notification at warn level.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Warn().
		Str("run_id", note.RunID).
		Str("kind", string(note.Kind)).
		Str("total_wealth", note.TotalWealth.StringFixed(2)).
		Strs("details", note.Details).
		Msg(note.Headline)
	return nil
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify delivers to every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Scratchwatch %s]\n", strings.ToUpper(strings.ReplaceAll(string(note.Kind), "_", " "))))
	if note.Headline != "" {
		builder.WriteString(note.Headline + "\n")
	}
	builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	if !note.PreviousWealth.IsZero() {
		builder.WriteString(fmt.Sprintf("Previous wealth: %s\n", note.PreviousWealth.StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("Total wealth: %s\n", note.TotalWealth.StringFixed(2)))
	if note.WealthDeviation != nil {
		builder.WriteString(fmt.Sprintf("Deviation: %s%% (threshold %s%%)\n",
			note.WealthDeviation.Mul(decimal.NewFromInt(100)).StringFixed(1),
			note.ThresholdPct.Mul(decimal.NewFromInt(100)).StringFixed(1)))
	}
	for _, line := range note.Details {
		builder.WriteString("- " + line + "\n")
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
