package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/livp123/netxpf/cmd/netxpf/commands/common"
	"github.com/livp123/netxpf/internal/core"
)

var TimeoutCmd = &cobra.Command{
	Use:   "timeout [name [seconds]]",
	Short: "Show or set state timeouts",
	Long: `Show all timeouts, one timeout, or set one.
显示全部超时、单个超时或设置超时。

Examples:
  netxpf timeout
  netxpf timeout tcp.established
  netxpf timeout tcp.first 60`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := common.NewSDK().Settings
		ctx := cmd.Context()
		w := cmd.OutOrStdout()

		switch len(args) {
		case 0:
			values, err := s.Timeouts(ctx)
			if err != nil {
				return err
			}
			common.PrintValues(w, values, "s")
		case 1:
			v, err := s.Timeout(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%-20s %10ds\n", args[0], v)
		default:
			secs, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid seconds %q: %w", args[1], err)
			}
			old, err := s.SetTimeout(ctx, args[0], secs)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "✅ %s: %ds -> %ds\n", args[0], old, secs)
		}
		return nil
	},
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return core.TimeoutNames(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
}

var LimitCmd = &cobra.Command{
	Use:   "limit [name [value]]",
	Short: "Show or set memory limits",
	Long: `Show all limits, one limit, or set one.
显示全部限制、单个限制或设置限制。

Examples:
  netxpf limit
  netxpf limit states 50000`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := common.NewSDK().Settings
		ctx := cmd.Context()
		w := cmd.OutOrStdout()

		switch len(args) {
		case 0:
			values, err := s.Limits(ctx)
			if err != nil {
				return err
			}
			common.PrintValues(w, values, "")
		case 1:
			v, err := s.Limit(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%-20s %10d\n", args[0], v)
		default:
			v, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid limit %q: %w", args[1], err)
			}
			old, err := s.SetLimit(ctx, args[0], uint32(v))
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "✅ %s: %d -> %d\n", args[0], old, v)
		}
		return nil
	},
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return core.LimitNames(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
}
