//go:build linux

package socket_test

import (
	"log"
	"net"
	"testing"

	"github.com/m-lab/go/rtx"
	"github.com/m-lab/ncps/socket"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func findPort() int {
	portFinder, err := net.Listen("tcp", ":0")
	rtx.Must(err, "could not open a socket to discover a free port")
	port := portFinder.Addr().(*net.TCPAddr).Port
	portFinder.Close()
	return port
}

func waitForCompletion(t *testing.T, w *socket.Waiter, wantOp string) *socket.Completion {
	t.Helper()
	for i := 0; i < 100; i++ {
		c, err := w.Wait(50)
		if err != nil {
			if socket.IsTimeout(err) {
				continue
			}
			t.Fatalf("Wait: %v", err)
		}
		if c.Op != wantOp {
			t.Fatalf("Wait returned op %q, want %q", c.Op, wantOp)
		}
		return c
	}
	t.Fatalf("timed out waiting for %q completion", wantOp)
	return nil
}

// TestConnectAcceptReadWrite drives one full connect/accept/write/read/close
// cycle end to end through the waiter, the same shape the engine's per-worker
// state machine will drive thousands of times a second.
func TestConnectAcceptReadWrite(t *testing.T) {
	w, err := socket.NewWaiter()
	rtx.Must(err, "NewWaiter")
	defer w.Close()

	port := findPort()
	local := socket.NewEndpoint(net.ParseIP("127.0.0.1"), port)

	listener := socket.Allocate(socket.TypeListener, socket.FamilyIPv4, 0)
	rtx.Must(listener.SetAsyncWaiter(w), "SetAsyncWaiter(listener)")
	rtx.Must(socket.ListenerOpen(listener, local, 16, socket.ListenReuseAddr), "ListenerOpen")
	rtx.Must(w.Register(listener), "Register(listener)")

	accepted := socket.Allocate(socket.TypeStream, socket.FamilyIPv4, 0)
	var remote socket.Endpoint
	status, err := socket.Accept(listener, accepted, &remote)
	if status != socket.StatusPending {
		t.Fatalf("Accept: status=%v err=%v, want StatusPending", status, err)
	}

	client := socket.Allocate(socket.TypeStream, socket.FamilyIPv4, 0)
	rtx.Must(client.SetAsyncWaiter(w), "SetAsyncWaiter(client)")
	status, err = socket.Connect(client, nil, local, socket.ConnectDefault)
	if status != socket.StatusSuccess && status != socket.StatusPending {
		t.Fatalf("Connect: status=%v err=%v", status, err)
	}
	rtx.Must(w.Register(client), "Register(client)")

	if status == socket.StatusPending {
		waitForCompletion(t, w, "connect")
	}

	waitForCompletion(t, w, "accept")
	rtx.Must(accepted.SetAsyncWaiter(w), "SetAsyncWaiter(accepted)")
	rtx.Must(w.Register(accepted), "Register(accepted)")

	msg := []byte("hello")
	status, err = socket.Write(client, msg)
	if status != socket.StatusSuccess && status != socket.StatusPending {
		t.Fatalf("Write: status=%v err=%v", status, err)
	}
	if status == socket.StatusPending {
		waitForCompletion(t, w, "write")
	}

	buf := make([]byte, 16)
	n, status, err := socket.Read(accepted, buf, nil)
	if status == socket.StatusPending {
		c := waitForCompletion(t, w, "read")
		n = c.N
	} else if status != socket.StatusSuccess {
		t.Fatalf("Read: status=%v err=%v", status, err)
	}
	if n != len(msg) || string(buf[:n]) != string(msg) {
		t.Fatalf("Read returned %q, want %q", buf[:n], msg)
	}

	rttMicros, retrans, err := socket.GetInfo(client)
	rtx.Must(err, "GetInfo")
	if rttMicros < 0 {
		t.Errorf("GetInfo RTT = %d, want >= 0", rttMicros)
	}
	if retrans < 0 {
		t.Errorf("GetInfo retransmits = %d, want >= 0", retrans)
	}

	rtx.Must(socket.Close(client, socket.CloseAbortive), "Close(client)")
	rtx.Must(socket.Close(accepted, socket.CloseAbortive), "Close(accepted)")
	rtx.Must(socket.Close(listener, socket.CloseNormal), "Close(listener)")
}

// TestCloseSynthesizesCancellation verifies that closing a socket with a
// still-pending accept produces a cancelled completion instead of the
// operation silently vanishing.
func TestCloseSynthesizesCancellation(t *testing.T) {
	w, err := socket.NewWaiter()
	rtx.Must(err, "NewWaiter")
	defer w.Close()

	port := findPort()
	local := socket.NewEndpoint(net.ParseIP("127.0.0.1"), port)

	listener := socket.Allocate(socket.TypeListener, socket.FamilyIPv4, 0)
	rtx.Must(listener.SetAsyncWaiter(w), "SetAsyncWaiter")
	rtx.Must(socket.ListenerOpen(listener, local, 16, socket.ListenReuseAddr), "ListenerOpen")
	rtx.Must(w.Register(listener), "Register")

	accepted := socket.Allocate(socket.TypeStream, socket.FamilyIPv4, 0)
	status, _ := socket.Accept(listener, accepted, nil)
	if status != socket.StatusPending {
		t.Fatalf("Accept: status=%v, want StatusPending", status)
	}

	rtx.Must(socket.Close(listener, socket.CloseNormal), "Close")

	c, err := w.Wait(100)
	rtx.Must(err, "Wait")
	if c.Op != "accept" || !socket.IsCancelled(c.Err) {
		t.Fatalf("Wait = %+v, want a cancelled accept", c)
	}
}
