// Package transport carries frames between two peers over a reliable stream.
//
// A Conn runs a handshake (identity exchange, optional passcode proof, admission), then moves
// Action frames and chunked resource transfers in both directions. Connection state changes and
// inbound traffic are published as Events. Listener accepts connections on a Network and restarts
// itself after recoverable failures.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/linchenxuan/slingshot/plugin"
)

var (
	// ErrRejected is the cause of a Failed client connection the host refused to admit.
	ErrRejected = errors.New("transport: connection rejected")
	// ErrAuthFailed is returned when the peers do not share a passcode or app identifier.
	ErrAuthFailed = errors.New("transport: authentication failed")
	// ErrConnClosed is returned by sends on a connection that is no longer usable.
	ErrConnClosed = errors.New("transport: connection closed")
	// ErrSendQueueFull is returned when a frame is dropped because the send queue is full.
	ErrSendQueueFull = errors.New("transport: send queue full")
	// ErrNotReady is returned by sends issued before the handshake completed.
	ErrNotReady = errors.New("transport: connection not ready")
	// ErrProtocol is returned when the peer sends a frame that is invalid at this point.
	ErrProtocol = errors.New("transport: protocol violation")
)

// Network opens stream connections of one kind, such as TCP or KCP.
type Network interface {
	plugin.Plugin
	// Name labels metrics and logs.
	Name() string
	// Listen binds addr. An empty port picks a free one.
	Listen(addr string) (net.Listener, error)
	// Dial connects to addr, giving up when ctx ends.
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// deadliner is implemented by listeners that support accept deadlines.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// IsRecoverable reports whether err describes a condition that goes away on its own, such as
// a temporarily exhausted descriptor table or a network that is briefly down. Listeners restart
// after a recoverable error; any other error is terminal.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM,
		syscall.ECONNABORTED, syscall.ENETDOWN, syscall.ENETUNREACH, syscall.EINTR,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// isClosedErr reports errors that only mean the other side went away.
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
