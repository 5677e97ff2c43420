package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleNotification() Notification {
	dev := decimal.RequireFromString("0.52")
	return Notification{
		At:              time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RunID:           "run_20260301_1200_abcd",
		Kind:            KindAnomaly,
		Headline:        "Wealth deviates from baseline",
		TotalWealth:     decimal.NewFromInt(1_520_000),
		WealthDeviation: &dev,
		ThresholdPct:    decimal.RequireFromString("0.40"),
		Details:         []string{"3 games observed"},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "run_20260301_1200_abcd") {
		t.Fatalf("text 应包含 run id: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(sampleNotification())
	for _, want := range []string{
		"[Scratchwatch ANOMALY]",
		"Wealth deviates from baseline",
		"Total wealth: 1520000.00",
		"Deviation: 52.0% (threshold 40.0%)",
		"- 3 games observed",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Notify(ctx context.Context, note Notification) error {
	r.calls++
	return r.err
}

func TestMultiDeliversToAll(t *testing.T) {
	boom := errors.New("boom")
	first := &recordingNotifier{err: boom}
	second := &recordingNotifier{}

	err := Multi{first, second, NewLogNotifier(testLogger())}.Notify(context.Background(), sampleNotification())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("every notifier should be called: %d %d", first.calls, second.calls)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
