//go:build linux

package engine_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/m-lab/go/rtx"
	"github.com/m-lab/ncps/engine"
	"github.com/m-lab/ncps/recorder"
	"github.com/m-lab/ncps/socket"
)

func findPort() int {
	portFinder, err := net.Listen("tcp", ":0")
	rtx.Must(err, "could not open a socket to discover a free port")
	port := portFinder.Addr().(*net.TCPAddr).Port
	portFinder.Close()
	return port
}

// TestOneIORoundTrip runs one server worker and one client worker against
// each other over loopback in one-io mode and checks that connections
// actually close out the far side.
func TestOneIORoundTrip(t *testing.T) {
	port := findPort()
	loopback := net.ParseIP("127.0.0.1")

	rec := recorder.New()
	rec.Start(0)

	serverCounters := &engine.Counters{}
	serverCfg := engine.Config{
		WorkerID:        0,
		WorkerCount:     1,
		IsServer:        true,
		Family:          socket.FamilyIPv4,
		ListenEndpoints: []socket.Endpoint{socket.NewEndpoint(loopback, port)},
		Backlog:         16,
		ListenFlags:     socket.ListenReuseAddr,
		Mode:            engine.ModeOneIO,
		BufLen:          64,
		CloseFlags:      socket.CloseAbortive,
		Recorder:        rec,
		Counters:        serverCounters,
	}
	server, err := engine.New(serverCfg)
	rtx.Must(err, "engine.New(server)")

	clientCounters := &engine.Counters{}
	clientCfg := engine.Config{
		WorkerID:           0,
		WorkerCount:        1,
		IsServer:           false,
		Family:             socket.FamilyIPv4,
		RemoteEndpointBase: socket.NewEndpoint(loopback, port),
		PortWalker:         engine.NewPortWalker(0, 0, 0, port, 1, false),
		TargetConns:        5,
		PendingCap:         5,
		Mode:               engine.ModeOneIO,
		BufLen:             64,
		CloseFlags:         socket.CloseNormal,
		Recorder:           rec,
		Counters:           clientCounters,
	}
	client, err := engine.New(clientCfg)
	rtx.Must(err, "engine.New(client)")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{}, 2)
	go func() { server.Run(ctx); done <- struct{}{} }()
	go func() { client.Run(ctx); done <- struct{}{} }()
	<-done
	<-done

	snap := clientCounters.Load()
	if snap.Closed == 0 {
		t.Errorf("client Closed = %d, want > 0", snap.Closed)
	}
	if rec.Count() == 0 {
		t.Errorf("recorder.Count() = 0, want > 0 connections recorded")
	}
}
