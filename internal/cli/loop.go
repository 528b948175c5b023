package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ralphctl/ralph/internal/client"
	"github.com/ralphctl/ralph/internal/db"
	"github.com/ralphctl/ralph/internal/models"
)

var (
	loopStartFile    string
	loopStartWorkDir string
	loopPRDFile      string
	loopPRDWorkDir   string
)

func init() {
	rootCmd.AddCommand(loopCmd)
	loopCmd.AddCommand(loopStartCmd)
	loopCmd.AddCommand(loopPRDCmd)
	loopCmd.AddCommand(loopPauseCmd)
	loopCmd.AddCommand(loopResumeCmd)
	loopCmd.AddCommand(loopKillCmd)
	loopCmd.AddCommand(loopPsCmd)
	loopCmd.AddCommand(loopShowCmd)

	loopStartCmd.Flags().StringVarP(&loopStartFile, "file", "f", "", "read the prompt from a file")
	loopStartCmd.Flags().StringVar(&loopStartWorkDir, "work-dir", "", "working directory for the agent")
	loopPRDCmd.Flags().StringVarP(&loopPRDFile, "file", "f", "", "plan document (json or yaml)")
	loopPRDCmd.Flags().StringVar(&loopPRDWorkDir, "work-dir", "", "working directory for the agent")
	_ = loopPRDCmd.MarkFlagRequired("file")
}

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Start and control loops",
}

var loopStartCmd = &cobra.Command{
	Use:   "start <project> [prompt]",
	Short: "Start an iterative loop",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]

		prompt := ""
		if len(args) == 2 {
			prompt = args[1]
		}
		if loopStartFile != "" {
			if prompt != "" {
				return fmt.Errorf("prompt given both as argument and --file")
			}
			data, err := os.ReadFile(loopStartFile)
			if err != nil {
				return fmt.Errorf("failed to read prompt file: %w", err)
			}
			prompt = strings.TrimSpace(string(data))
		}
		if prompt == "" {
			return fmt.Errorf("a prompt is required: pass it as an argument or with --file")
		}

		api := client.New(daemonAddr())
		created, err := api.StartLoop(cmd.Context(), projectID, prompt, loopStartWorkDir)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, created)
		}
		score := ""
		if created.QualityScore != nil {
			score = fmt.Sprintf(" (prompt quality %d/100)", *created.QualityScore)
		}
		fmt.Fprintf(os.Stdout, "Started loop %s%s\n", created.ID, score)
		return nil
	},
}

var loopPRDCmd = &cobra.Command{
	Use:   "prd <project>",
	Short: "Start a PRD loop from a plan document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := readPlanDocument(loopPRDFile)
		if err != nil {
			return err
		}

		api := client.New(daemonAddr())
		created, err := api.StartPlan(cmd.Context(), args[0], plan, loopPRDWorkDir)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, created)
		}
		fmt.Fprintf(os.Stdout, "Started PRD loop %s: %q, %d stories\n",
			created.ID, plan.Name, created.TotalStories)
		return nil
	},
}

var loopPauseCmd = &cobra.Command{
	Use:   "pause <loop-id>",
	Short: "Pause a running loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd.Context(), args[0], "pause")
	},
}

var loopResumeCmd = &cobra.Command{
	Use:   "resume <loop-id>",
	Short: "Resume a paused loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd.Context(), args[0], "resume")
	},
}

var loopKillCmd = &cobra.Command{
	Use:   "kill <loop-id>",
	Short: "Kill a loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd.Context(), args[0], "kill")
	},
}

func runControl(ctx context.Context, loopID, action string) error {
	api := client.New(daemonAddr())

	var result *client.ControlResult
	var err error
	switch action {
	case "pause":
		result, err = api.Pause(ctx, loopID)
	case "resume":
		result, err = api.Resume(ctx, loopID)
	case "kill":
		result, err = api.Kill(ctx, loopID)
	}
	if err != nil {
		return err
	}

	if IsJSONOutput() || IsJSONLOutput() {
		return WriteOutput(os.Stdout, result)
	}
	fmt.Fprintf(os.Stdout, "Loop %s is now %s\n", result.ID, colorizeStatus(result.Status))
	return nil
}

var loopPsCmd = &cobra.Command{
	Use:   "ps [project]",
	Short: "List loops",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		loopRepo := db.NewLoopRepository(database)

		var loops []*models.Loop
		if len(args) == 1 {
			loops, err = loopRepo.ListByProject(cmd.Context(), args[0])
		} else {
			loops, err = loopRepo.List(cmd.Context())
		}
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, loops)
		}

		if len(loops) == 0 {
			fmt.Fprintln(os.Stdout, "No loops found")
			return nil
		}

		rows := make([][]string, 0, len(loops))
		for _, entry := range loops {
			progress := fmt.Sprintf("%d", entry.Iteration)
			if entry.Mode == models.LoopModePRD {
				progress = fmt.Sprintf("%d (story %d/%d)", entry.Iteration, entry.CurrentStory+1, entry.TotalStories)
			}
			rows = append(rows, []string{
				entry.ID,
				entry.ProjectID,
				string(entry.Mode),
				colorizeStatus(entry.Status),
				progress,
				truncate(entry.Outcome, 48),
				entry.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			})
		}
		return writeTable(os.Stdout, []string{"ID", "PROJECT", "MODE", "STATUS", "ITER", "OUTCOME", "CREATED"}, rows)
	},
}

var loopShowCmd = &cobra.Command{
	Use:   "show <loop-id>",
	Short: "Show one loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		entry, err := db.NewLoopRepository(database).Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, entry)
		}

		fmt.Fprintf(os.Stdout, "ID:       %s\n", entry.ID)
		fmt.Fprintf(os.Stdout, "Project:  %s\n", entry.ProjectID)
		fmt.Fprintf(os.Stdout, "Mode:     %s\n", entry.Mode)
		fmt.Fprintf(os.Stdout, "Status:   %s\n", colorizeStatus(entry.Status))
		fmt.Fprintf(os.Stdout, "WorkDir:  %s\n", entry.WorkDir)
		if entry.Mode == models.LoopModePRD {
			name := ""
			if entry.PlanName != nil {
				name = *entry.PlanName
			}
			fmt.Fprintf(os.Stdout, "Plan:     %s (story %d/%d)\n", name, entry.CurrentStory+1, entry.TotalStories)
		}
		if entry.QualityScore != nil {
			fmt.Fprintf(os.Stdout, "Quality:  %d/100\n", *entry.QualityScore)
		}
		fmt.Fprintf(os.Stdout, "Iterations: %d\n", entry.Iteration)
		if entry.Outcome != "" {
			fmt.Fprintf(os.Stdout, "Outcome:  %s\n", entry.Outcome)
		}
		return nil
	},
}

// readPlanDocument parses a plan from JSON or YAML based on the extension.
func readPlanDocument(path string) (*models.PlanDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var plan models.PlanDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
		}
	default:
		// Try JSON first, then YAML.
		if err := json.Unmarshal(data, &plan); err != nil {
			if yerr := yaml.Unmarshal(data, &plan); yerr != nil {
				return nil, fmt.Errorf("failed to parse plan file: %w", err)
			}
		}
	}
	return &plan, nil
}

func colorizeStatus(status models.LoopStatus) string {
	switch status {
	case models.LoopStatusRunning:
		return colorize(string(status), colorGreen)
	case models.LoopStatusPaused:
		return colorize(string(status), colorYellow)
	case models.LoopStatusCompleted:
		return colorize(string(status), colorBlue)
	case models.LoopStatusFailed:
		return colorize(string(status), colorRed)
	default:
		return string(status)
	}
}
