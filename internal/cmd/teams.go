package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/silhouette/hive/internal/team"
)

var teamsCmd = &cobra.Command{
	Use:   "teams <roster.yaml>",
	Short: "Validate and print a team roster",
	Long: `Validate a YAML team roster and print the teams it defines.

The command exits non-zero when any team descriptor is invalid, making it
usable as a pre-flight check in deployment scripts.`,
	Args: cobra.ExactArgs(1),
	RunE: runTeams,
}

func init() {
	rootCmd.AddCommand(teamsCmd)
}

func runTeams(cmd *cobra.Command, args []string) error {
	descriptors, err := team.LoadRoster(args[0])
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%d teams", len(descriptors))))
	for _, d := range descriptors {
		fmt.Printf("  %-20s %s capacity=%d\n",
			d.Name,
			labelStyle.Render(strings.Join(d.Capabilities, ", ")),
			d.MaxCapacity)
	}
	return nil
}
