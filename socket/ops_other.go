//go:build !linux

package socket

import "fmt"

var errUnsupported = fmt.Errorf("socket: unsupported platform")

func ListenerOpen(s *Socket, local Endpoint, backlog int, flags ListenFlags) error {
	return errUnsupported
}

func Connect(s *Socket, local *Endpoint, remote Endpoint, flags ConnectFlags) (Status, error) {
	return StatusFailure, errUnsupported
}

func Accept(listener *Socket, newSocket *Socket, remoteOut *Endpoint) (Status, error) {
	return StatusFailure, errUnsupported
}

func Disconnect(s *Socket) error { return errUnsupported }

func GetInfo(s *Socket) (int64, int, error) { return 0, 0, errUnsupported }

func SetKeepalive(s *Socket, idleSeconds int) error { return errUnsupported }

func Close(s *Socket, flags CloseFlags) error { return errUnsupported }

func Read(s *Socket, buf []byte, remoteOut *Endpoint) (int, Status, error) {
	return 0, StatusFailure, errUnsupported
}

func Write(s *Socket, buf []byte) (Status, error) { return StatusFailure, errUnsupported }

func deliver(ev readyEvent) []Completion { return nil }
