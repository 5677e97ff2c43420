package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateBaseline float64
	simulateCurrent  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次总奖金偏差并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBaseline <= 0 || simulateCurrent < 0 {
			return errors.New("--baseline 必须大于 0, --current 不能为负")
		}

		baseline := decimal.NewFromFloat(simulateBaseline)
		current := decimal.NewFromFloat(simulateCurrent)
		return getApp().SimulateAlert(cmd.Context(), baseline, current)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateBaseline, "baseline", 0, "基线总奖金 (USD)")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "本次观测总奖金 (USD)")
}
