package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sccpilot/sccpilot/internal/manifest"
	"github.com/sccpilot/sccpilot/internal/policy"
	"github.com/sccpilot/sccpilot/internal/requirement"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <manifest-file-or-dir>",
	Short: "Extract and classify the security requirements of a manifest",
	Long: `analyze parses workload manifests, classifies every security-sensitive
field into a risk-tiered requirement, and suggests the least privileged
built-in SCC profile that would satisfy them. Nothing touches the cluster.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		analysis, err := loadManifests(args[0])
		if err != nil {
			return err
		}

		reqs, warnings := requirement.Extract(analysis.Documents)
		analysis.Warnings = append(analysis.Warnings, warnings...)

		var b strings.Builder
		renderRequirements(&b, reqs)
		renderServiceAccounts(&b, analysis.ServiceAccounts)
		renderWarnings(&b, analysis.Warnings)

		b.WriteString(titleStyle.Render("Suggested profile") + "\n")
		b.WriteString("  " + okStyle.Render(policy.SuggestProfile(reqs)) + "\n")

		fmt.Fprint(cmd.OutOrStdout(), b.String())
		return nil
	},
}

// loadManifests reads a file or walks a directory into one combined analysis.
func loadManifests(path string) (*manifest.Analysis, error) {
	parser := manifest.NewParser()

	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		analyses, err := parser.ParseDirectory(path)
		if err != nil {
			return nil, err
		}
		return manifest.Combine(analyses...), nil
	}
	return parser.ParseFile(path)
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
