package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralphctl/ralph/internal/db"
	"github.com/ralphctl/ralph/internal/learn"
	"github.com/ralphctl/ralph/internal/memory"
)

func init() {
	rootCmd.AddCommand(contextCmd)
}

var contextCmd = &cobra.Command{
	Use:   "context <project>",
	Short: "Show the learned context a loop would receive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		cfg := GetConfig()
		builder := learn.NewBuilder(db.NewMistakeRepository(database), memory.NewLoader(cfg.MemoryDir()))

		loopCtx, err := builder.Build(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, loopCtx)
		}

		if loopCtx.ClaudeMDSummary != "" {
			fmt.Fprintf(os.Stdout, "Project memory:\n%s\n\n", loopCtx.ClaudeMDSummary)
		}
		if len(loopCtx.RecentMistakes) == 0 {
			fmt.Fprintln(os.Stdout, "No recent mistakes")
		} else {
			fmt.Fprintln(os.Stdout, "Recent mistakes:")
			for _, mistake := range loopCtx.RecentMistakes {
				fmt.Fprintf(os.Stdout, "  - [%s] %s\n", mistake.Type, mistake.Description)
			}
			if loopCtx.OverflowCount > 0 {
				fmt.Fprintf(os.Stdout, "  (+%d earlier)\n", loopCtx.OverflowCount)
			}
		}
		if len(loopCtx.ProjectPatterns) > 0 {
			fmt.Fprintln(os.Stdout, "Learned patterns:")
			for _, pattern := range loopCtx.ProjectPatterns {
				fmt.Fprintf(os.Stdout, "  - %s\n", pattern)
			}
		}
		return nil
	},
}
