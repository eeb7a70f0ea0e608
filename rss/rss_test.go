package rss_test

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/m-lab/go/rtx"
	"github.com/m-lab/ncps/rss"
)

func writeFakeSoftirqs(t *testing.T, body string) string {
	t.Helper()
	f, err := ioutil.TempFile("", "TestRSS")
	rtx.Must(err, "could not create temp file")
	_, err = f.WriteString(body)
	rtx.Must(err, "could not write temp file")
	rtx.Must(f.Close(), "could not close temp file")
	return f.Name()
}

func TestSampleParsesNetRXLine(t *testing.T) {
	path := writeFakeSoftirqs(t, "          CPU0       CPU1       CPU2\n"+
		"HI:          0          0          0\n"+
		"NET_RX:    1000       2000        500\n"+
		"TASKLET:     1          2          3\n")
	defer os.Remove(path)

	counts, err := rss.NewSampler(path).Sample()
	rtx.Must(err, "Sample")
	want := []uint64{1000, 2000, 500}
	if len(counts) != len(want) {
		t.Fatalf("Sample() = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %d, want %d", i, counts[i], want[i])
		}
	}
}

func TestSampleMissingFile(t *testing.T) {
	_, err := rss.NewSampler("/this/path/does/not/exist").Sample()
	if err != rss.ErrUnavailable {
		t.Errorf("Sample() err = %v, want ErrUnavailable", err)
	}
}

func TestSampleNoNetRXLine(t *testing.T) {
	path := writeFakeSoftirqs(t, "HI:  0 0 0\n")
	defer os.Remove(path)

	_, err := rss.NewSampler(path).Sample()
	if err != rss.ErrNoNetRXLine {
		t.Errorf("Sample() err = %v, want ErrNoNetRXLine", err)
	}
}

func TestNonRSSCPUs(t *testing.T) {
	prev := []uint64{1000, 1000, 1000, 1000}
	cur := []uint64{1100, 2000, 1050, 1900}
	// deltas: 100, 1000, 50, 900; max=1000, threshold=100. Only cpu 2 is
	// strictly below the threshold; cpu 0's delta equals it.
	cpus, threshold := rss.NonRSSCPUs(prev, cur)
	if threshold != 100 {
		t.Fatalf("threshold = %d, want 100", threshold)
	}
	want := map[int]bool{2: true}
	got := map[int]bool{}
	for _, c := range cpus {
		got[c] = true
	}
	if len(got) != len(want) {
		t.Fatalf("NonRSSCPUs = %v, want cpu 2 only", cpus)
	}
	for c := range want {
		if !got[c] {
			t.Errorf("NonRSSCPUs missing cpu %d", c)
		}
	}
}

func TestDetectorRequiresTwoSnapshots(t *testing.T) {
	path := writeFakeSoftirqs(t, "NET_RX: 10 20\n")
	defer os.Remove(path)

	d := rss.NewDetector(path)
	if d.Ready() {
		t.Fatal("Ready() = true before any snapshot")
	}
	rtx.Must(d.Snapshot(), "Snapshot 1")
	if d.Ready() {
		t.Fatal("Ready() = true after one snapshot")
	}
	rtx.Must(d.Snapshot(), "Snapshot 2")
	if !d.Ready() {
		t.Fatal("Ready() = false after two snapshots")
	}
	if _, _, err := d.NonRSSCPUs(); err != nil {
		t.Errorf("NonRSSCPUs() error = %v", err)
	}
}
