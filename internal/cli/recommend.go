package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralphctl/ralph/internal/db"
	"github.com/ralphctl/ralph/internal/models"
)

var recommendDismissPermanent bool

func init() {
	rootCmd.AddCommand(recommendCmd)
	recommendCmd.AddCommand(recommendListCmd)
	recommendCmd.AddCommand(recommendDismissCmd)
	recommendCmd.AddCommand(recommendClearCmd)

	recommendDismissCmd.Flags().BoolVar(&recommendDismissPermanent, "permanent", false, "dismiss without expiry")
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Manage recommendation dismissals",
}

var recommendListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List active dismissals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		dismissals, err := db.NewDismissalRepository(database).
			ListActiveByProject(cmd.Context(), args[0], time.Now())
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, dismissals)
		}

		if len(dismissals) == 0 {
			fmt.Fprintln(os.Stdout, "No active dismissals")
			return nil
		}

		rows := make([][]string, 0, len(dismissals))
		for _, dismissal := range dismissals {
			expires := "never"
			if !dismissal.Permanent {
				expires = dismissal.DismissedAt.Add(models.DismissalTTL).UTC().Format("2006-01-02 15:04:05")
			}
			rows = append(rows, []string{
				dismissal.RecommendationID,
				dismissal.DismissedAt.UTC().Format("2006-01-02 15:04:05"),
				expires,
			})
		}
		return writeTable(os.Stdout, []string{"RECOMMENDATION", "DISMISSED", "EXPIRES"}, rows)
	},
}

var recommendDismissCmd = &cobra.Command{
	Use:   "dismiss <project> <recommendation-id>",
	Short: "Dismiss a recommendation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		dismissal := &models.Dismissal{
			ProjectID:        args[0],
			RecommendationID: args[1],
			Permanent:        recommendDismissPermanent,
		}
		if err := db.NewDismissalRepository(database).Upsert(cmd.Context(), dismissal); err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, dismissal)
		}
		suffix := ""
		if dismissal.Permanent {
			suffix = " permanently"
		}
		fmt.Fprintf(os.Stdout, "Dismissed %s%s\n", dismissal.RecommendationID, suffix)
		return nil
	},
}

var recommendClearCmd = &cobra.Command{
	Use:   "clear <project> <recommendation-id>",
	Short: "Clear a dismissal ahead of its expiry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		if err := db.NewDismissalRepository(database).Delete(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, map[string]string{"cleared": args[1]})
		}
		fmt.Fprintf(os.Stdout, "Cleared dismissal for %s\n", args[1])
		return nil
	},
}
