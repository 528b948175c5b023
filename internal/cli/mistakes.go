package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralphctl/ralph/internal/db"
)

var (
	mistakesLimit      int
	mistakesResolveID  string
	mistakesResolution string
	mistakesPattern    string
)

func init() {
	rootCmd.AddCommand(mistakesCmd)

	mistakesCmd.Flags().IntVar(&mistakesLimit, "limit", 50, "maximum number of mistakes to list")
	mistakesCmd.Flags().StringVar(&mistakesResolveID, "resolve", "", "mark the mistake with this ID as resolved")
	mistakesCmd.Flags().StringVar(&mistakesResolution, "resolution", "", "how the mistake was fixed (with --resolve)")
	mistakesCmd.Flags().StringVar(&mistakesPattern, "pattern", "", "reusable pattern learned from the fix (with --resolve)")
}

var mistakesCmd = &cobra.Command{
	Use:   "mistakes <project>",
	Short: "List or resolve a project's recorded mistakes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]

		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		mistakes := db.NewMistakeRepository(database)

		if mistakesResolveID != "" {
			if mistakesResolution == "" {
				return fmt.Errorf("--resolution is required with --resolve")
			}
			if err := mistakes.Resolve(cmd.Context(), mistakesResolveID, mistakesResolution, mistakesPattern); err != nil {
				return err
			}
			resolved, err := mistakes.Get(cmd.Context(), mistakesResolveID)
			if err != nil {
				return err
			}
			if IsJSONOutput() || IsJSONLOutput() {
				return WriteOutput(os.Stdout, resolved)
			}
			fmt.Fprintf(os.Stdout, "Resolved mistake %s\n", resolved.ID)
			return nil
		}

		items, err := mistakes.ListByProject(cmd.Context(), projectID, mistakesLimit)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, items)
		}

		if len(items) == 0 {
			fmt.Fprintln(os.Stdout, "No mistakes recorded")
			return nil
		}

		rows := make([][]string, 0, len(items))
		for _, item := range items {
			resolved := ""
			if item.Resolution != nil {
				resolved = "yes"
			}
			rows = append(rows, []string{
				item.ID,
				string(item.Type),
				truncate(item.Description, 56),
				resolved,
				item.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			})
		}
		return writeTable(os.Stdout, []string{"ID", "TYPE", "DESCRIPTION", "RESOLVED", "CREATED"}, rows)
	},
}
