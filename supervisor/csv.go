package supervisor

import (
	"os"

	"github.com/gocarina/gocsv"
)

// csvRow is one periodic display tick, tagged for gocsv the same way the
// teacher's csvtool marshals its snapshot rows.
type csvRow struct {
	TSec        int     `csv:"t_sec"`
	Open        int64   `csv:"open"`
	Pending     int64   `csv:"pending"`
	Failed      int64   `csv:"failed"`
	IOFailed    int64   `csv:"io_failed"`
	ConnPerSec  float64 `csv:"conn_per_sec"`
	ClosePerSec float64 `csv:"close_per_sec"`
	RXKBs       float64 `csv:"rx_kb_per_sec"`
	TXKBs       float64 `csv:"tx_kb_per_sec"`
	Retrans     int64   `csv:"retrans"`
	Conn0       int64   `csv:"conn_no_retrans"`
	Conn0RTTUs  float64 `csv:"conn_no_retrans_avg_rtt_us"`
	ConnR       int64   `csv:"conn_retrans"`
	ConnRRTTUs  float64 `csv:"conn_retrans_avg_rtt_us"`
	PortWrapped bool    `csv:"port_wrapped"`
}

// csvRecorder accumulates one csvRow per display tick for -csv export.
type csvRecorder struct {
	path string
	rows []csvRow
}

func newCSVRecorder(path string) *csvRecorder {
	if path == "" {
		return nil
	}
	return &csvRecorder{path: path}
}

func (c *csvRecorder) add(tsec, intervalSec int, r Row) {
	if c == nil {
		return
	}
	divisor := float64(intervalSec)
	if divisor <= 0 {
		divisor = 1
	}
	c.rows = append(c.rows, csvRow{
		TSec:        tsec,
		Open:        r.Open,
		Pending:     r.OpenPending,
		Failed:      r.OpenFailure,
		IOFailed:    r.IOFailure,
		ConnPerSec:  float64(r.OpenPending+r.OpenFailure) / divisor,
		ClosePerSec: float64(r.Closed) / divisor,
		RXKBs:       float64(r.RXBytes) / 1024 / divisor,
		TXKBs:       float64(r.TXBytes) / 1024 / divisor,
		Retrans:     r.RetransSum,
		Conn0:       r.RTTCount0,
		Conn0RTTUs:  avg(r.RTTSum0, r.RTTCount0),
		ConnR:       r.RTTCountR,
		ConnRRTTUs:  avg(r.RTTSumR, r.RTTCountR),
		PortWrapped: r.PortWrapped,
	})
}

// flush writes the accumulated rows to c.path as CSV, the same
// gocsv.Marshal call the teacher's csvtool uses to turn structured Go
// values into a CSV file.
func (c *csvRecorder) flush() error {
	if c == nil || c.path == "" {
		return nil
	}
	f, err := os.Create(c.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.Marshal(c.rows, f)
}
