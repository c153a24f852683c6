package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sccpilot/sccpilot/internal/advisor"
	"github.com/sccpilot/sccpilot/internal/cluster"
	"github.com/sccpilot/sccpilot/internal/config"
	"github.com/sccpilot/sccpilot/internal/converge"
	"github.com/sccpilot/sccpilot/internal/errors"
	"github.com/sccpilot/sccpilot/internal/policy"
)

var (
	deployMaxIterations int
	deployConfidence    float64
	deployDryRun        bool
	deploySCCName       string
)

var deployCmd = &cobra.Command{
	Use:   "deploy <manifest-file-or-dir>",
	Short: "Deploy a workload, converging on the SCC it needs",
	Long: `deploy runs the full convergence loop: synthesize the least-privilege
SCC, merge it with whatever is already bound to the workload's service
accounts, apply, and on admission failure ask the failure advisor for a
confidence-scored adjustment - bounded by the iteration budget.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		analysis, err := loadManifests(args[0])
		if err != nil {
			return err
		}
		if len(analysis.Workloads()) == 0 {
			return errors.New(errors.ErrCodeManifestEmpty, "no pod-bearing documents found")
		}

		gateway, err := cluster.NewClient(cfg.KubeconfigPath,
			cluster.WithDryRun(deployDryRun),
			cluster.WithLogger(logger))
		if err != nil {
			return err
		}

		adv, err := buildAdvisor(cfg.Advisor)
		if err != nil {
			return err
		}

		maxIterations := cfg.Deploy.MaxIterations
		if cmd.Flags().Changed("max-iterations") {
			maxIterations = deployMaxIterations
		}
		threshold := cfg.Deploy.ConfidenceThreshold
		if cmd.Flags().Changed("confidence-threshold") {
			threshold = deployConfidence
		}

		loop := converge.NewLoop(gateway, adv, policy.NewMerger(cfg.Deploy.UpdatedBy), logger)
		report, runErr := loop.Run(cmd.Context(), converge.Request{
			Documents:           analysis.Documents,
			ServiceAccounts:     analysis.ServiceAccounts,
			Namespace:           cfg.Namespace,
			PolicyName:          deploySCCName,
			Budget:              maxIterations,
			ConfidenceThreshold: threshold,
			ApplyTimeout:        time.Duration(cfg.Deploy.ApplyTimeoutSec) * time.Second,
			AdvisorTimeout:      time.Duration(cfg.Advisor.TimeoutSec) * time.Second,
		})

		var b strings.Builder
		renderWarnings(&b, report.Warnings)
		renderReport(&b, report)
		fmt.Fprint(cmd.OutOrStdout(), b.String())

		return runErr
	},
}

// buildAdvisor wires the configured failure advisor. "none" disables
// analysis entirely; the loop then stops at the first rejection. LLM
// providers are loaded into a registry and resolved by name.
func buildAdvisor(ac config.AdvisorConfig) (advisor.Advisor, error) {
	switch ac.Provider {
	case "", "rules":
		return advisor.NewRuleAdvisor(), nil
	case "none":
		return nil, nil
	}

	registry := advisor.NewRegistry()
	if err := registry.LoadFromConfig(advisor.ClientConfig{
		Provider: ac.Provider,
		APIKey:   ac.APIKey,
		Model:    ac.Model,
		BaseURL:  ac.BaseURL,
	}); err != nil {
		return nil, err
	}

	client, err := registry.Get(ac.Provider)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAdvisorNotFound, "resolving advisor provider", err)
	}
	return advisor.NewLLMAdvisor(client, logger), nil
}

func init() {
	deployCmd.Flags().IntVar(&deployMaxIterations, "max-iterations", 3, "convergence iteration budget")
	deployCmd.Flags().Float64Var(&deployConfidence, "confidence-threshold", 0.7, "minimum advisor confidence to accept a delta")
	deployCmd.Flags().BoolVar(&deployDryRun, "dry-run", false, "server-side dry run, nothing persists")
	deployCmd.Flags().StringVar(&deploySCCName, "scc-name", "", "pin the target SCC instead of discovering it")
	rootCmd.AddCommand(deployCmd)
}
