package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livp123/netxpf/cmd/netxpf/commands/common"
	"github.com/livp123/netxpf/internal/utils/fmtutil"
)

var AltqCmd = &cobra.Command{
	Use:   "altq",
	Short: "Queueing management",
	Long: `Queueing management commands
队列管理命令`,
}

var altqShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List active queues with their statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := common.NewSDK().Altq
		ctx := cmd.Context()
		n, ticket, err := s.List(ctx)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if n == 0 {
			fmt.Fprintln(w, " - No queues.")
			return nil
		}
		for i := 0; i < n; i++ {
			q, err := s.Get(ctx, ticket, i)
			if err != nil {
				return err
			}
			if q.Queue.QName == "" {
				fmt.Fprintf(w, "altq on %s bandwidth %d\n", q.Queue.IfName, q.Queue.Bandwidth)
				continue
			}
			fmt.Fprintf(w, "queue %s on %s [ pkts: %s bytes: %s dropped: %d qlength: %d ]\n",
				q.Queue.QName, q.Queue.IfName,
				fmtutil.FormatNumber(q.Stats.Packets), fmtutil.FormatBytes(q.Stats.Bytes),
				q.Stats.Drops, q.Stats.QLength)
		}
		return nil
	},
}

var altqStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Attach queue disciplines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := common.NewSDK().Altq.Start(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✅ ALTQ enabled")
		return nil
	},
}

var altqStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Detach queue disciplines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := common.NewSDK().Altq.Stop(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "🛑 ALTQ disabled")
		return nil
	},
}

func init() {
	AltqCmd.AddCommand(altqShowCmd)
	AltqCmd.AddCommand(altqStartCmd)
	AltqCmd.AddCommand(altqStopCmd)
}
