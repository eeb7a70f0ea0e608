package supervisor

import "testing"

func TestParseArgsServerDefaults(t *testing.T) {
	p, err := ParseArgs([]string{"-s", "-r", "2", "-np", "4", "-bp", "20000"})
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if !p.Server || p.Workers != 2 || p.NumPorts != 4 || p.BasePort != 20000 {
		t.Errorf("ParseArgs() = %+v", p)
	}
}

func TestParseArgsClientDefaults(t *testing.T) {
	p, err := ParseArgs([]string{"-c", "127.0.0.1", "-r", "4", "-np", "4", "-bp", "20000"})
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if p.Server || p.ClientHost != "127.0.0.1" {
		t.Errorf("ParseArgs() = %+v", p)
	}
	if p.TotalConns != p.Workers*100 {
		t.Errorf("TotalConns = %d, want %d", p.TotalConns, p.Workers*100)
	}
	if p.PendingCap != p.TotalConns {
		t.Errorf("PendingCap = %d, want %d", p.PendingCap, p.TotalConns)
	}
}

func TestParseArgsMissingFirstToken(t *testing.T) {
	if _, err := ParseArgs(nil); err == nil {
		t.Fatal("ParseArgs(nil) error = nil, want error")
	}
}

func TestParseArgsServerRequiresEnoughPorts(t *testing.T) {
	_, err := ParseArgs([]string{"-s", "-r", "4", "-np", "2", "-bp", "20000"})
	if err == nil {
		t.Fatal("ParseArgs() error = nil, want error for -np < -r")
	}
}

func TestParseArgsClientNcpMandatoryWithBcp(t *testing.T) {
	_, err := ParseArgs([]string{"-c", "127.0.0.1", "-bcp", "30000"})
	if err == nil {
		t.Fatal("ParseArgs() error = nil, want error for -bcp without -ncp")
	}
}

func TestPerWorkerRangeDistributesRemainder(t *testing.T) {
	// 10 ports across 3 workers -> sizes 4,3,3
	start0, size0 := perWorkerRange(100, 10, 3, 0)
	start1, size1 := perWorkerRange(100, 10, 3, 1)
	start2, size2 := perWorkerRange(100, 10, 3, 2)
	if size0 != 4 || size1 != 3 || size2 != 3 {
		t.Fatalf("sizes = %d,%d,%d, want 4,3,3", size0, size1, size2)
	}
	if start0 != 100 || start1 != 104 || start2 != 107 {
		t.Fatalf("starts = %d,%d,%d, want 100,104,107", start0, start1, start2)
	}
}
