package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulatePrice     int
	simulateThreshold int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次低价并通过已配置通道发送告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice < 0 {
			return errors.New("--price 不能小于 0")
		}
		return getApp().SimulateAlert(cmd.Context(), simulatePrice, simulateThreshold)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulatePrice, "price", 40, "模拟的 gas 价格 (gwei)")
	simulateCmd.Flags().IntVar(&simulateThreshold, "threshold", 70, "告警阈值 (gwei)")
}
