package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralphctl/ralph/internal/agent"
	"github.com/ralphctl/ralph/internal/analyzer"
	"github.com/ralphctl/ralph/internal/checkpoint"
	"github.com/ralphctl/ralph/internal/db"
	"github.com/ralphctl/ralph/internal/learn"
	"github.com/ralphctl/ralph/internal/loop"
	"github.com/ralphctl/ralph/internal/memory"
	"github.com/ralphctl/ralph/internal/server"
	"github.com/ralphctl/ralph/internal/state"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ralph daemon",
	Long:  "Run the loop orchestration daemon with its HTTP API.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg := GetConfig()

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	loops := db.NewLoopRepository(database)
	mistakes := db.NewMistakeRepository(database)
	dismissals := db.NewDismissalRepository(database)

	executor := agent.NewCommandExecutor(cfg.Agent.CommandTemplate, agent.PromptMode(cfg.Agent.PromptMode))
	executor.TailLines = cfg.Agent.TailLines

	builder := learn.NewBuilder(mistakes, memory.NewLoader(cfg.MemoryDir()))

	registry := loop.NewRegistry(loop.Options{
		Loops:          loops,
		Mistakes:       mistakes,
		Guard:          state.NewGuard(loops),
		Analyzer:       analyzer.NewHeuristic(),
		Builder:        builder,
		Executor:       executor,
		Committer:      checkpoint.NewGitCommitter(),
		ProjectRoot:    cfg.ProjectRoot(),
		PollInterval:   cfg.Loop.PollInterval,
		AttemptTimeout: cfg.Agent.AttemptTimeout,
	})
	defer registry.Shutdown()

	handler, err := server.New(server.Config{
		Registry:   registry,
		Mistakes:   mistakes,
		Dismissals: dismissals,
		Builder:    builder,
		Store:      database,
		BasePath:   cfg.Server.BasePath,
	})
	if err != nil {
		return fmt.Errorf("failed to build API: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := server.NewSweeper(dismissals, cfg.Server.SweepInterval)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.ListenAddr).
			Str("base_path", cfg.Server.BasePath).
			Msg("daemon listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown did not complete cleanly")
	}

	return nil
}
