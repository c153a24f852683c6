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
	"github.com/sccpilot/sccpilot/internal/requirement"
)

var (
	generateName     string
	generateOptimize bool
	generateOutput   string
	generateBindings bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <manifest-file-or-dir>",
	Short: "Synthesize an SCC and its RoleBindings offline",
	Long: `generate derives the least-privilege SCC for the given manifests and
emits it as YAML, together with the RoleBindings that grant it to the
workload's service accounts. No cluster access is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		analysis, err := loadManifests(args[0])
		if err != nil {
			return err
		}
		if len(analysis.Workloads()) == 0 {
			return errors.New(errors.ErrCodeManifestEmpty, "no pod-bearing documents found").
				WithSuggestion("point generate at a manifest containing a Pod, Deployment, or similar")
		}

		reqs, _ := requirement.Extract(analysis.Documents)

		name := generateName
		if name == "" {
			name = analysis.Workloads()[0].Name + "-scc"
		}

		cfg := policy.Synthesize(reqs, name)
		if generateOptimize {
			cfg = policy.Optimize(cfg, reqs)
		}

		docs := []interface{}{policy.ToUnstructured(cfg).Object}
		if generateBindings {
			for _, rb := range cluster.BuildRoleBindings(name, analysis.ServiceAccounts) {
				docs = append(docs, rb)
			}
		}

		var b strings.Builder
		for i, doc := range docs {
			raw, err := sigsyaml.Marshal(doc)
			if err != nil {
				return errors.Wrap(errors.ErrCodePolicyConvert, "rendering YAML", err)
			}
			if i > 0 {
				b.WriteString("---\n")
			}
			b.Write(raw)
		}

		if generateOutput != "" {
			if err := os.WriteFile(generateOutput, []byte(b.String()), 0o644); err != nil {
				return errors.Wrap(errors.ErrCodeFileWriteFailed, "writing "+generateOutput, err)
			}
			logger.Info("policy written", "path", generateOutput, "policy", name)
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), b.String())
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateName, "scc-name", "", "name for the generated SCC (default <workload>-scc)")
	generateCmd.Flags().BoolVar(&generateOptimize, "optimize", false, "tighten the freshly synthesized policy against its requirements")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "write the YAML to a file instead of stdout")
	generateCmd.Flags().BoolVar(&generateBindings, "bindings", true, "include RoleBindings for the workload's service accounts")
	rootCmd.AddCommand(generateCmd)
}
