package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	orikata "github.com/orikata-ai/orikata"
	"github.com/orikata-ai/orikata/internal/graphdef"
)

var (
	runInput   string
	runTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <graph-file>",
	Short: "Dry-run a graph definition locally",
	Long: `Executes a graph definition once with pass-through stub nodes,
printing the visit order. Useful for checking topology and routing
before writing node implementations. Routes always take their declared
fallback because stub nodes carry no predicates.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "{}", "initial state as a JSON object")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", time.Minute, "run timeout")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	def, err := graphdef.Load(args[0])
	if err != nil {
		return err
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(runInput), &input); err != nil {
		return fmt.Errorf("parse --input: %w", err)
	}

	logger := newLogger("warn")
	eng, err := orikata.New(
		orikata.WithLogger(logger),
		orikata.WithReducer(visitLogKey, appendReducer),
	)
	if err != nil {
		return err
	}
	if err := eng.AddGraph(def); err != nil {
		return err
	}
	if err := registerStubNodes(eng); err != nil {
		return err
	}

	done := make(chan orikata.State, 1)
	failed := make(chan error, 1)
	runID, err := eng.StartRun(ctx, def.Slug, orikata.StartRunOptions{
		Input:       input,
		Timeout:     runTimeout,
		OnCompleted: func(_ string, result orikata.State) { done <- result },
		OnFailed:    func(_ string, err error) { failed <- err },
	})
	if err != nil {
		return err
	}

	select {
	case result := <-done:
		fmt.Printf("run %s completed\n", runID)
		if visits, ok := result[visitLogKey].([]any); ok {
			for i, v := range visits {
				fmt.Printf("  %2d. %v\n", i+1, v)
			}
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintf(os.Stdout, "final state:\n%s\n", out)
		return nil
	case err := <-failed:
		return fmt.Errorf("run %s failed: %w", runID, err)
	case <-ctx.Done():
		eng.AbortRun(runID)
		<-eng.RunDone(runID)
		return fmt.Errorf("run %s cancelled", runID)
	}
}
