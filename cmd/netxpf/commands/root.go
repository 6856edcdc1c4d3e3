package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/runtime"
	"github.com/livp123/netxpf/internal/utils/logger"
)

var RootCmd = &cobra.Command{
	Use:   "netxpf",
	Short: "A stateful packet filter control plane",
	// Short: 有状态包过滤控制平面
	Long: `netxpf manages packet filter rulesets, tables, address pools, queues,
connection states and source tracking through a local control API.
netxpf 通过本地控制 API 管理包过滤规则集、表、地址池、队列、连接状态与源跟踪。`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Load configuration to get logging settings
		// 加载配置以获取日志设置
		globalCfg, err := config.LoadConfig(config.GetConfigPath())
		if err != nil {
			// If config fails to load, log to the console only
			// 如果加载配置失败，仅输出到控制台
			logger.Init(logger.LoggingConfig{Level: "info"})
		} else {
			logger.Init(globalCfg.Logging)
		}

		// Inject logger into context
		// 将 Logger 注入 Context
		ctx := logger.WithContext(cmd.Context(), logger.Get(nil))
		cmd.SetContext(ctx)
	},
}

func init() {
	// Config file path
	// 配置文件路径
	RootCmd.PersistentFlags().StringVarP(&runtime.ConfigPath, "config", "c", "", fmt.Sprintf("Path to configuration file (default: %s)", config.DefaultConfigPath))

	// Control API address and token
	// 控制 API 地址与令牌
	RootCmd.PersistentFlags().StringVar(&runtime.APIAddr, "api", "", "Control API address (default: api.listen from the config file)")
	RootCmd.PersistentFlags().StringVar(&runtime.Token, "token", "", "Control API token (default: api.admin_token from the config file)")

	RootCmd.AddCommand(DaemonCmd)
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(StopCmd)
	RootCmd.AddCommand(StatusCmd)
	RootCmd.AddCommand(RulesCmd)
	RootCmd.AddCommand(TablesCmd)
	RootCmd.AddCommand(StatesCmd)
	RootCmd.AddCommand(SourcesCmd)
	RootCmd.AddCommand(TimeoutCmd)
	RootCmd.AddCommand(LimitCmd)
	RootCmd.AddCommand(AltqCmd)

	// Disable powershell completion (Linux-focused project doesn't need it)
	// 禁用 powershell 补全（Linux 项目不需要）
	RootCmd.CompletionOptions.DisableDescriptions = true
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		os.Exit(1)
	}
}
