package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livp123/netxpf/cmd/netxpf/commands/common"
	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
)

var RulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Ruleset management",
	Long: `Ruleset management commands
规则集管理命令`,
}

var rulesLoadCmd = &cobra.Command{
	Use:   "load -f <file>",
	Short: "Load a ruleset file",
	Long: `Load a ruleset file. Every anchor, table and queue list in the file is
replaced atomically; anchors not named in the file are left alone.
加载规则集文件，文件中的锚点、表与队列将被原子替换，未提及的锚点保持不变。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		rs, err := config.LoadRuleset(file)
		if err != nil {
			return err
		}
		if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
			fmt.Fprintf(cmd.OutOrStdout(), "[OK] %s: %d anchors, %d tables, %d queues\n",
				file, len(rs.Anchors), len(rs.Tables), len(rs.Queues))
			return nil
		}
		n, err := common.NewSDK().Rules.Load(cmd.Context(), rs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Loaded %d rules from %s\n", n, file)
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active rules of an anchor",
	Long: `Show the active rules of one class of an anchor
显示锚点某一类别的活动规则`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		anchor, _ := cmd.Flags().GetString("anchor")
		name, _ := cmd.Flags().GetString("class")
		class, err := core.ParseClass(name)
		if err != nil {
			return err
		}
		res, err := common.NewSDK().Rules.List(cmd.Context(), anchor, class)
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		common.PrintRules(cmd.OutOrStdout(), res.Rules, verbose)
		return nil
	},
}

var rulesFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove every rule of an anchor",
	Long: `Remove every rule of every class of an anchor
删除锚点所有类别的全部规则`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		anchor, _ := cmd.Flags().GetString("anchor")
		if err := common.NewSDK().Rules.Flush(cmd.Context(), anchor); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🧹 Flushed rules of %s\n", anchorName(anchor))
		return nil
	},
}

var rulesClearCountersCmd = &cobra.Command{
	Use:   "clear-counters",
	Short: "Zero the counters of every rule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := common.NewSDK().Rules.ClearCounters(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "🧹 Rule counters cleared")
		return nil
	},
}

var anchorsCmd = &cobra.Command{
	Use:   "anchors [path]",
	Short: "List the child anchors of path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		names, err := common.NewSDK().Rules.Anchors(cmd.Context(), path)
		if err != nil {
			return err
		}
		for _, n := range names {
			if path != "" {
				n = path + "/" + n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", n)
		}
		return nil
	},
}

var TablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Table inspection",
	Long: `Table inspection commands
表查看命令`,
}

var tablesShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "List tables, or the addresses of one table",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		anchor, _ := cmd.Flags().GetString("anchor")
		s := common.NewSDK()
		if len(args) == 0 {
			tables, err := s.Tables.List(cmd.Context(), anchor)
			if err != nil {
				return err
			}
			common.PrintTables(cmd.OutOrStdout(), tables)
			return nil
		}
		addrs, err := s.Tables.Addrs(cmd.Context(), anchor, args[0])
		if err != nil {
			return err
		}
		for _, a := range addrs {
			fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", a)
		}
		return nil
	},
}

func anchorName(path string) string {
	if path == "" {
		return "the main ruleset"
	}
	return "anchor " + path
}

func init() {
	rulesLoadCmd.Flags().StringP("file", "f", "", "Ruleset file (YAML)")
	_ = rulesLoadCmd.MarkFlagRequired("file")
	rulesLoadCmd.Flags().BoolP("dry-run", "n", false, "Parse and check the file without loading it")

	rulesShowCmd.Flags().StringP("anchor", "a", "", "Anchor path (default: main ruleset)")
	rulesShowCmd.Flags().String("class", "filter", "Rule class: scrub, filter, nat, binat, rdr")
	rulesShowCmd.Flags().BoolP("verbose", "v", false, "Show rule counters")
	rulesFlushCmd.Flags().StringP("anchor", "a", "", "Anchor path (default: main ruleset)")
	tablesShowCmd.Flags().StringP("anchor", "a", "", "Anchor path (default: main ruleset)")

	RulesCmd.AddCommand(rulesLoadCmd)
	RulesCmd.AddCommand(rulesShowCmd)
	RulesCmd.AddCommand(rulesFlushCmd)
	RulesCmd.AddCommand(rulesClearCountersCmd)
	RulesCmd.AddCommand(anchorsCmd)
	TablesCmd.AddCommand(tablesShowCmd)
}
