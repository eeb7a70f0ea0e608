//go:build linux

package supervisor_test

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/go/rtx"
	"github.com/m-lab/ncps/supervisor"
)

func findPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	rtx.Must(err, "could not open a socket to discover a free port")
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// TestServerAndClientRoundTrip starts one server and one client Supervisor
// against each other over loopback for a short, bounded run and checks that
// the final report shows at least one successful connection.
func TestServerAndClientRoundTrip(t *testing.T) {
	port := findPort(t)

	serverParams, err := supervisor.ParseArgs([]string{
		"-s", "-r", "1", "-bp", strconv.Itoa(port), "-np", "1", "-t", "2", "-sil",
	})
	rtx.Must(err, "ParseArgs(server)")
	var serverOut bytes.Buffer
	server, err := supervisor.New(serverParams, &serverOut)
	rtx.Must(err, "supervisor.New(server)")

	clientParams, err := supervisor.ParseArgs([]string{
		"-c", "127.0.0.1", "-r", "1", "-bp", strconv.Itoa(port), "-np", "1",
		"-N", "4", "-P", "4", "-t", "2", "-sil",
	})
	rtx.Must(err, "ParseArgs(client)")
	var clientOut bytes.Buffer
	client, err := supervisor.New(clientParams, &clientOut)
	rtx.Must(err, "supervisor.New(client)")

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		server.Run(ctx)
		close(done)
	}()
	// Give the server a moment to bind before the client starts connecting.
	time.Sleep(50 * time.Millisecond)
	client.Run(ctx)
	<-done

	if !strings.Contains(clientOut.String(), "###CPS") {
		t.Errorf("client final report %q missing ###CPS summary tag", clientOut.String())
	}
	if strings.Contains(clientOut.String(), "Connections: 0 in") {
		t.Errorf("client final report %q shows no successful connection", clientOut.String())
	}
}
