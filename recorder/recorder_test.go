package recorder_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/m-lab/ncps/recorder"
)

func TestRecordAndCount(t *testing.T) {
	r := recorder.New()
	r.Start(0)
	for i := 0; i < 100; i++ {
		r.Record(int64(i), 0, int64(1000+i))
	}
	if got := r.Count(); got != 100 {
		t.Fatalf("Count() = %d, want 100", got)
	}
}

func TestPercentileMonotonic(t *testing.T) {
	r := recorder.New()
	r.Start(0)
	for i := 1; i <= 1000; i++ {
		r.Record(0, 0, int64(i*10))
	}
	prev := int64(-1)
	for _, p := range recorder.Percentiles {
		got := r.Percentile(p)
		if got < prev {
			t.Errorf("Percentile(%v) = %d, not >= previous percentile %d", p, got, prev)
		}
		prev = got
	}
	if got := r.Percentile(50); got < 4000 || got > 6000 {
		t.Errorf("Percentile(50) = %d, want roughly 5000", got)
	}
}

func TestPercentileSaturatesRTT(t *testing.T) {
	r := recorder.New()
	r.Start(0)
	r.Record(0, 0, recorder.MaxRTTUs+5000)
	if got := r.Percentile(99.99); got != recorder.MaxRTTUs {
		t.Errorf("Percentile(99.99) = %d, want saturated bin %d", got, recorder.MaxRTTUs)
	}
}

func TestRetransmitAccounting(t *testing.T) {
	r := recorder.New()
	r.Start(0)
	r.Record(0, 0, 1000)
	r.Record(0, 2, 1000)
	r.Record(0, 0, 1000)
	r.Stop(0)
	s := r.Summarize(0, 0)
	if s.N != 3 {
		t.Fatalf("N = %d, want 3", s.N)
	}
	wantPct := 100.0 / 3.0
	if diff := s.RetransPercent - wantPct; diff > 0.01 || diff < -0.01 {
		t.Errorf("RetransPercent = %v, want ~%v", s.RetransPercent, wantPct)
	}
	if s.RetransPerConn != 2 {
		t.Errorf("RetransPerConn = %v, want 2", s.RetransPerConn)
	}
}

func TestTimeToNthTable(t *testing.T) {
	r := recorder.New()
	r.Start(0)
	for i := 0; i < recorder.BatchSize; i++ {
		r.Record(int64(i), 0, 100)
	}
	s := r.Summarize(0, 0)
	if len(s.TimeToNth) != 1 {
		t.Fatalf("len(TimeToNth) = %d, want 1", len(s.TimeToNth))
	}
	if s.TimeToNth[0].N != recorder.BatchSize {
		t.Errorf("TimeToNth[0].N = %d, want %d", s.TimeToNth[0].N, recorder.BatchSize)
	}
}

func TestSummaryPrintEmitsMachineTags(t *testing.T) {
	r := recorder.New()
	r.Start(0)
	r.Record(0, 0, 1500)
	r.Stop(1000)
	s := r.Summarize(0, 0)

	var buf bytes.Buffer
	s.Print(&buf)
	out := buf.String()

	for _, tag := range []string{"###ENDCPS", "###CPS", "###SYNRTT", "###REXMIT", "###RXGBPS", "###TXGBPS"} {
		if !strings.Contains(out, tag) {
			t.Errorf("Print() output missing tag %q\n%s", tag, out)
		}
	}
}
