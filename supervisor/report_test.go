package supervisor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/m-lab/ncps/engine"
)

func TestAvg(t *testing.T) {
	if got := avg(0, 0); got != 0 {
		t.Errorf("avg(0,0) = %v, want 0", got)
	}
	if got := avg(100, 4); got != 25 {
		t.Errorf("avg(100,4) = %v, want 25", got)
	}
}

func TestPrintRowFullIncludesByteAndRTTColumns(t *testing.T) {
	var buf bytes.Buffer
	r := Row{Snapshot: engine.Snapshot{
		Open: 10, OpenPending: 5, OpenFailure: 1, IOFailure: 0, Closed: 4,
		RXBytes: 2048, TXBytes: 1024,
		RTTSum0: 500, RTTCount0: 5, RTTSumR: 900, RTTCountR: 3,
		RetransSum: 3,
	}}
	printRow(&buf, 7, 1, r, false, false)
	out := buf.String()
	for _, want := range []string{"T=7", "N=10", "Pend=5", "Failed=1", "RXkB/s=2.0", "TXkB/s=1.0", "c0/i=5", "cR/i=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("printRow() output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "REP") {
		t.Errorf("printRow() output %q should not contain REP when wrapped=false", out)
	}
}

func TestPrintRowBriefDropsByteAndRTTColumns(t *testing.T) {
	var buf bytes.Buffer
	r := Row{Snapshot: engine.Snapshot{Open: 1, Closed: 1}}
	printRow(&buf, 1, 1, r, true, true)
	out := buf.String()
	if strings.Contains(out, "RXkB/s") || strings.Contains(out, "c0/i") {
		t.Errorf("printRow(brief) output %q should not include full-mode columns", out)
	}
	if !strings.Contains(out, "REP") {
		t.Errorf("printRow() output %q missing REP marker for wrapped=true", out)
	}
}

func TestPrintRowZeroIntervalDoesNotDivideByZero(t *testing.T) {
	var buf bytes.Buffer
	r := Row{Snapshot: engine.Snapshot{Closed: 10}}
	printRow(&buf, 1, 0, r, false, false)
	if strings.Contains(buf.String(), "+Inf") || strings.Contains(buf.String(), "NaN") {
		t.Errorf("printRow() with zero interval produced non-finite rate: %q", buf.String())
	}
}
