package console_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-lab/ncps/console"
)

type fakeController struct {
	paused  int32
	cycled  int32
}

func (f *fakeController) TogglePaused()    { atomic.AddInt32(&f.paused, 1) }
func (f *fakeController) CycleDisplayMode() { atomic.AddInt32(&f.cycled, 1) }

// TestRunNoTerminalReturnsOnCancel checks that console.Run, when stdin is
// not a terminal (as in any test runner), just waits for cancellation
// instead of erroring or busy-looping.
func TestRunNoTerminalReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- console.Run(ctx, &fakeController{}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
