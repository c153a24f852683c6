package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/sccpilot/sccpilot/internal/cluster"
	"github.com/sccpilot/sccpilot/internal/errors"
	"github.com/sccpilot/sccpilot/internal/policy"
)

var getSCCOutput string

var getSCCCmd = &cobra.Command{
	Use:   "get-scc <name>",
	Short: "Fetch one SCC from the cluster as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gateway, err := cluster.NewClient(cfg.KubeconfigPath, cluster.WithLogger(logger))
		if err != nil {
			return err
		}

		existing, err := gateway.FetchPolicy(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if existing == nil {
			return errors.New(errors.ErrCodePolicyNotFound,
				fmt.Sprintf("SCC %q not found", args[0])).
				WithSuggestion("run list-sccs to see what the cluster has")
		}

		raw, err := sigsyaml.Marshal(policy.ToUnstructured(*existing).Object)
		if err != nil {
			return errors.Wrap(errors.ErrCodePolicyConvert, "rendering YAML", err)
		}

		if getSCCOutput != "" {
			if err := os.WriteFile(getSCCOutput, raw, 0o644); err != nil {
				return errors.Wrap(errors.ErrCodeFileWriteFailed, "writing "+getSCCOutput, err)
			}
			logger.Info("policy written", "path", getSCCOutput, "policy", args[0])
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), string(raw))
		return nil
	},
}

var listSCCsCmd = &cobra.Command{
	Use:   "list-sccs",
	Short: "List the SCCs in the cluster",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		gateway, err := cluster.NewClient(cfg.KubeconfigPath, cluster.WithLogger(logger))
		if err != nil {
			return err
		}

		policies, err := gateway.ListPolicies(cmd.Context())
		if err != nil {
			return err
		}

		var b strings.Builder
		renderPolicyList(&b, policies)
		fmt.Fprint(cmd.OutOrStdout(), b.String())
		return nil
	},
}

func init() {
	getSCCCmd.Flags().StringVarP(&getSCCOutput, "output", "o", "", "write the YAML to a file instead of stdout")
	rootCmd.AddCommand(getSCCCmd)
	rootCmd.AddCommand(listSCCsCmd)
}
