package tcp_test

import (
	"testing"

	"github.com/m-lab/ncps/tcp"
)

func TestStateString(t *testing.T) {
	cases := map[tcp.State]string{
		tcp.ESTABLISHED: "ESTABLISHED",
		tcp.SYN_SENT:    "SYN_SENT",
		tcp.LISTEN:      "LISTEN",
		tcp.State(99):   "UNKNOWN_STATE_99",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
