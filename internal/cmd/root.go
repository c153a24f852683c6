package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/sccpilot/sccpilot/internal/config"
	"github.com/sccpilot/sccpilot/internal/log"
)

var (
	cfg    *config.Config
	logger *log.Logger

	flagKubeconfig string
	flagNamespace  string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sccpilot",
	Short: "Least-privilege SCC agent for OpenShift workloads",
	Long: `sccpilot derives the minimal SecurityContextConstraints a workload needs,
reconciles it against whatever SCC is already bound to the workload's service
accounts, and - when the cluster still rejects the deployment - iterates with
automated failure analysis until it converges or the retry budget runs out.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if flagKubeconfig != "" {
			cfg.KubeconfigPath = flagKubeconfig
		}
		if cmd.Flags().Changed("namespace") {
			cfg.Namespace = flagNamespace
		}
		if flagLogLevel != "" {
			cfg.LogLevel = flagLogLevel
		}

		logger = log.New(log.Config{
			Level:  log.ParseLevel(cfg.LogLevel),
			Format: log.ParseFormat(cfg.LogFormat),
			Output: log.NewOutput(os.Stderr),
		})
		log.SetDefaultLogger(logger)
		return nil
	},
}

// ExecuteContext runs the CLI under the given context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagKubeconfig, "kubeconfig", "", "path to the kubeconfig file")
	rootCmd.PersistentFlags().StringVarP(&flagNamespace, "namespace", "n", "default", "target namespace")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
}
