package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livp123/netxpf/cmd/netxpf/commands/common"
	"github.com/livp123/netxpf/internal/api"
)

var StatesCmd = &cobra.Command{
	Use:   "states",
	Short: "State table management",
	Long: `State table management commands
状态表管理命令`,
}

var statesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List states",
	Long: `List states, optionally narrowed by a filter expression such as
'proto == "tcp" && dst_port == 443' or 'InCIDR("10.0.0.0/8")'.
列出状态，可使用过滤表达式筛选。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")
		states, err := common.NewSDK().States.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		common.PrintStates(cmd.OutOrStdout(), states, verbose)
		return nil
	},
}

var statesKillCmd = &cobra.Command{
	Use:   "kill",
	Short: "Remove matching states",
	Long: `Remove the states matching every given selector
删除匹配全部选择条件的状态`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var req api.KillRequest
		f := cmd.Flags()
		req.AF, _ = f.GetString("af")
		req.Proto, _ = f.GetString("proto")
		req.Src, _ = f.GetString("src")
		req.Dst, _ = f.GetString("dst")
		req.SrcPort, _ = f.GetString("src-port")
		req.DstPort, _ = f.GetString("dst-port")
		req.IfName, _ = f.GetString("ifname")
		req.Filter, _ = f.GetString("filter")

		n, err := common.NewSDK().States.Kill(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🔪 Killed %d states\n", n)
		return nil
	},
}

var statesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every state, or those on one interface",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ifname, _ := cmd.Flags().GetString("ifname")
		n, err := common.NewSDK().States.Clear(cmd.Context(), ifname)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🧹 Cleared %d states\n", n)
		return nil
	},
}

var SourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Source tracking management",
	Long: `Source tracking management commands
源跟踪管理命令`,
}

var sourcesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List source nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")
		nodes, err := common.NewSDK().Sources.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		common.PrintSources(cmd.OutOrStdout(), nodes)
		return nil
	},
}

var sourcesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every source node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := common.NewSDK().Sources.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🧹 Cleared %d source nodes\n", n)
		return nil
	},
}

var sourcesKillCmd = &cobra.Command{
	Use:   "kill",
	Short: "Remove source nodes by source and translated address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, _ := cmd.Flags().GetString("src")
		dst, _ := cmd.Flags().GetString("dst")
		n, err := common.NewSDK().Sources.Kill(cmd.Context(), src, dst)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🔪 Killed %d source nodes\n", n)
		return nil
	},
}

func init() {
	statesShowCmd.Flags().String("filter", "", "Filter expression")
	statesShowCmd.Flags().BoolP("verbose", "v", false, "Show age, expiry and counters")

	kf := statesKillCmd.Flags()
	kf.String("af", "", "Address family: inet or inet6")
	kf.String("proto", "", "Protocol name or number")
	kf.String("src", "", "Source address or prefix, '!' negates")
	kf.String("dst", "", "Destination address or prefix, '!' negates")
	kf.String("src-port", "", "Source port, e.g. 22, >1024, 1000:2000")
	kf.String("dst-port", "", "Destination port")
	kf.String("ifname", "", "Interface name")
	kf.String("filter", "", "Filter expression")

	statesClearCmd.Flags().String("ifname", "", "Only clear states on this interface")

	sourcesShowCmd.Flags().String("filter", "", "Filter expression, e.g. 'states > 10'")
	sourcesKillCmd.Flags().String("src", "", "Source address or prefix")
	sourcesKillCmd.Flags().String("dst", "", "Translated address or prefix")

	StatesCmd.AddCommand(statesShowCmd)
	StatesCmd.AddCommand(statesKillCmd)
	StatesCmd.AddCommand(statesClearCmd)
	SourcesCmd.AddCommand(sourcesShowCmd)
	SourcesCmd.AddCommand(sourcesClearCmd)
	SourcesCmd.AddCommand(sourcesKillCmd)
}
