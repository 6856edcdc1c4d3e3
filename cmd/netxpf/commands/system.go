package commands

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/livp123/netxpf/cmd/netxpf/commands/common"
	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/daemon"
)

var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the packet filter daemon",
	Long: `Run the packet filter engine and its control API in the foreground.
在前台运行包过滤引擎及其控制 API。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pid, _ := cmd.Flags().GetString("pid-file")
		d, err := daemon.New(ctx, daemon.Options{PidPath: pid})
		if err != nil {
			return err
		}
		return d.Run(ctx)
	},
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Enable the packet filter",
	Long: `Enable packet filtering on a running daemon
在运行中的守护进程上启用包过滤`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := common.NewSDK().Status.Start(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Packet filter enabled")
		return nil
	},
}

var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Disable the packet filter",
	Long: `Disable packet filtering on a running daemon
在运行中的守护进程上禁用包过滤`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := common.NewSDK().Status.Stop(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "🛑 Packet filter disabled")
		return nil
	},
}

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show packet filter status",
	Long: `Show status, state table and counters
显示状态、状态表与计数器`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := common.NewSDK()
		ctx := cmd.Context()

		if clear, _ := cmd.Flags().GetBool("clear"); clear {
			if err := s.Status.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "🧹 Counters cleared")
			return nil
		}
		if ifname, _ := cmd.Flags().GetString("interface"); cmd.Flags().Changed("interface") {
			if err := s.Status.SetInterface(ctx, ifname); err != nil {
				return err
			}
		}

		st, err := s.Status.Get(ctx)
		if err != nil {
			return err
		}
		common.PrintStatus(cmd.OutOrStdout(), st, time.Now())

		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			a, err := s.Status.Allocations(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Allocations")
			fmt.Fprintf(w, "   %-24s %14d\n", "rules", a.Rules)
			fmt.Fprintf(w, "   %-24s %14d\n", "pool addresses", a.PoolAddrs)
			fmt.Fprintf(w, "   %-24s %14d\n", "tables", a.Tables)
			fmt.Fprintf(w, "   %-24s %14d\n", "anchors", a.Anchors)
			fmt.Fprintf(w, "   %-24s %14d\n", "interfaces", a.Kifs)
			fmt.Fprintf(w, "   %-24s %14d\n", "tags", a.Tags)
			fmt.Fprintf(w, "   %-24s %14d\n", "queue ids", a.QueueIDs)
		}
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Long: `Write the default configuration file if it does not exist
如果配置文件不存在则写入默认配置`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetConfigPath()
		created, err := config.InitConfig(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "📄 Wrote %s\n", path)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "ℹ️  %s already exists\n", path)
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and its rulesets",
	Long: `Validate the configuration file and the ruleset file it names
校验配置文件及其引用的规则集文件`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetConfigPath()
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[OK] %s\n", path)
		if cfg.Rulesets == "" {
			return nil
		}
		rs, err := config.LoadRuleset(cfg.Rulesets)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[OK] %s (%d anchors)\n", cfg.Rulesets, len(rs.Anchors))
		return nil
	},
}

func init() {
	DaemonCmd.Flags().String("pid-file", config.DefaultPidPath, "PID file path (empty disables it)")
	StatusCmd.Flags().Bool("clear", false, "Clear status counters")
	StatusCmd.Flags().String("interface", "", "Collect interface statistics for this interface (empty disables)")
	StatusCmd.Flags().BoolP("verbose", "v", false, "Show object allocations")

	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(checkCmd)
}
