package supervisor

import (
	"os"
	"strings"
	"testing"

	"github.com/m-lab/ncps/engine"
)

func TestNewCSVRecorderNilWithoutPath(t *testing.T) {
	c := newCSVRecorder("")
	if c != nil {
		t.Fatalf("newCSVRecorder(\"\") = %v, want nil", c)
	}
	// nil receiver methods must be safe no-ops.
	c.add(1, 1, Row{})
	if err := c.flush(); err != nil {
		t.Errorf("flush() on nil recorder = %v, want nil", err)
	}
}

func TestCSVRecorderAddAndFlush(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ncps-*.csv")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()

	c := newCSVRecorder(path)
	c.add(1, 1, Row{Snapshot: engine.Snapshot{Open: 5, Closed: 2, RXBytes: 1024}})
	c.add(2, 1, Row{Snapshot: engine.Snapshot{Open: 6, Closed: 3, RXBytes: 2048}, PortWrapped: true})

	if err := c.flush(); err != nil {
		t.Fatalf("flush() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "t_sec") {
		t.Errorf("flush() output %q missing header", out)
	}
	if !strings.Contains(out, "true") {
		t.Errorf("flush() output %q missing port_wrapped=true row", out)
	}
}
