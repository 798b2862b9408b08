package cmd

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// newTestRootCmd creates a fresh root command for testing, avoiding mutation
// of the global rootCmd which could cause race conditions in parallel tests.
func newTestRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tilevault",
		Short: "Group and review drawable files",
	}
}

// TestExecuteContext_CancellationPropagates verifies that context cancellation
// from ExecuteContext propagates to command handlers.
func TestExecuteContext_CancellationPropagates(t *testing.T) {
	var contextWasCancelled atomic.Bool
	handlerStarted := make(chan struct{})

	testRoot := newTestRootCmd()
	testRoot.AddCommand(&cobra.Command{
		Use: "test-cancel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			close(handlerStarted)
			select {
			case <-ctx.Done():
				contextWasCancelled.Store(true)
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		testRoot.SetArgs([]string{"test-cancel"})
		done <- testRoot.ExecuteContext(ctx)
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("command handler did not start in time")
	}

	// Simulates SIGINT/SIGTERM
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled error, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteContext did not return after context cancellation")
	}

	if !contextWasCancelled.Load() {
		t.Error("command did not observe context cancellation")
	}
}

// TestExecuteContext_PropagatesContext verifies ExecuteContext passes context to command handlers.
//
// NOTE: This test modifies the package-level rootCmd variable and must NOT use t.Parallel().
func TestExecuteContext_PropagatesContext(t *testing.T) {
	savedRootCmd := rootCmd
	defer func() { rootCmd = savedRootCmd }()

	testRoot := newTestRootCmd()

	type ctxKey string
	var receivedCtx context.Context
	testRoot.AddCommand(&cobra.Command{
		Use: "test-ctx",
		RunE: func(cmd *cobra.Command, args []string) error {
			receivedCtx = cmd.Context()
			return nil
		},
	})
	rootCmd = testRoot

	testKey := ctxKey("test-key")
	ctx := context.WithValue(context.Background(), testKey, "test-value")

	testRoot.SetArgs([]string{"test-ctx"})
	if err := ExecuteContext(ctx); err != nil {
		t.Fatalf("ExecuteContext returned unexpected error: %v", err)
	}

	if receivedCtx == nil {
		t.Fatal("command did not receive context")
	}
	if got := receivedCtx.Value(testKey); got != "test-value" {
		t.Errorf("context value mismatch: got %v, want test-value", got)
	}
}

// NOTE: modifies the package-level rootCmd; must NOT use t.Parallel().
func TestExecute_UsesBackgroundContextInHandler(t *testing.T) {
	savedRootCmd := rootCmd
	defer func() { rootCmd = savedRootCmd }()

	testRoot := newTestRootCmd()
	var receivedCtx context.Context
	testRoot.AddCommand(&cobra.Command{
		Use: "test-bg-ctx",
		RunE: func(cmd *cobra.Command, args []string) error {
			receivedCtx = cmd.Context()
			return nil
		},
	})
	rootCmd = testRoot

	testRoot.SetArgs([]string{"test-bg-ctx"})
	if err := Execute(); err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if receivedCtx == nil {
		t.Fatal("command did not receive context")
	}
	if receivedCtx.Err() != nil {
		t.Errorf("background context should not be done: %v", receivedCtx.Err())
	}
}
