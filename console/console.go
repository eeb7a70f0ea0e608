// Package console implements the interactive control thread: a goroutine
// that reads single keystrokes from standard input and toggles the
// process-wide pause and display-mode flags the supervisor and workers
// consult.
package console

import (
	"context"
	"os"

	"golang.org/x/term"
)

// Controller is whatever a keystroke can act on; *supervisor.Supervisor
// satisfies it.
type Controller interface {
	TogglePaused()
	CycleDisplayMode()
}

// Run puts stdin into raw mode (if it is a terminal) and reads single
// keystrokes until ctx is cancelled or stdin closes. 'p' toggles pause,
// 'd' cycles the display mode; any other byte is ignored. If stdin is not
// a terminal this degrades to a no-op, since there is nothing to read
// keystrokes from (e.g. when input is redirected).
func Run(ctx context.Context, c Controller) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		<-ctx.Done()
		return nil
	}

	prevState, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, prevState)

	buf := make([]byte, 1)
	errc := make(chan error, 1)
	keys := make(chan byte, 1)
	go func() {
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				keys <- buf[0]
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case k := <-keys:
			switch k {
			case 'p', 'P':
				c.TogglePaused()
			case 'd', 'D':
				c.CycleDisplayMode()
			}
		}
	}
}
