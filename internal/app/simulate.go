package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"scratch-registry/internal/alerting"
	"scratch-registry/internal/scheduler"
)

// SimulateAlert 通过给定的基线/当前总奖金模拟一次告警流程。
func (a *App) SimulateAlert(ctx context.Context, baseline, current decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if !baseline.IsPositive() {
		return errors.New("baseline wealth must be positive")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	now := time.Now().UTC()
	deviation := current.Sub(baseline).Abs().Div(baseline)
	threshold := decimal.NewFromFloat(a.Config.Notary.AnomalyThreshold)
	retention := decimal.NewFromFloat(a.Config.Notary.IntegrityRetention)

	note := alerting.Notification{
		At:              now,
		RunID:           scheduler.NewRunID(now),
		Kind:            alerting.KindAnomaly,
		Headline:        "Simulated alert: total wealth deviates from rolling baseline",
		PreviousWealth:  baseline,
		TotalWealth:     current,
		WealthDeviation: &deviation,
		ThresholdPct:    threshold,
		Channels:        a.Config.Alerting.Channels,
	}
	if current.LessThanOrEqual(baseline.Mul(retention)) {
		note.Kind = alerting.KindIntegrityFailure
		note.Headline = "Simulated alert: integrity gate would abort this run"
		note.Details = []string{fmt.Sprintf("Floor: %s", baseline.Mul(retention).StringFixed(2))}
	} else if deviation.LessThanOrEqual(threshold) {
		a.Logger.Info().Str("deviation", deviation.StringFixed(4)).Msg("deviation within threshold; sending anyway")
	}

	return notifier.Notify(ctx, note)
}
