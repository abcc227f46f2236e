package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gas-price-alerts/internal/storage"
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change alert settings",
}

var setThresholdCmd = &cobra.Command{
	Use:   "threshold <gwei>",
	Short: fmt.Sprintf("Set the alert threshold (0-%d gwei)", storage.MaxThreshold),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gwei, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid threshold %q: %w", args[0], err)
		}
		return getApp().SetThreshold(cmd.Context(), gwei)
	},
}

var setNotificationsCmd = &cobra.Command{
	Use:       "notifications <on|off>",
	Short:     "Enable or disable alerts",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseSwitch(args[0])
		if err != nil {
			return err
		}
		return getApp().SetNotifications(cmd.Context(), enabled)
	},
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", v)
	}
}

func init() {
	setCmd.AddCommand(setThresholdCmd)
	setCmd.AddCommand(setNotificationsCmd)
}
