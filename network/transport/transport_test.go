package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/linchenxuan/slingshot/network/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRecoverable(t *testing.T) {
	recoverable := []error{
		emfile(),
		fmt.Errorf("accept: %w", syscall.ENFILE),
		os.ErrDeadlineExceeded,
		&net.OpError{Op: "read", Err: syscall.ENETDOWN},
	}
	for _, err := range recoverable {
		assert.True(t, IsRecoverable(err), err.Error())
	}

	terminal := []error{
		nil,
		errors.New("boom"),
		net.ErrClosed,
		&net.OpError{Op: "listen", Err: os.NewSyscallError("bind", syscall.EADDRINUSE)},
		syscall.EACCES,
	}
	for _, err := range terminal {
		assert.False(t, IsRecoverable(err), "%v", err)
	}
}

func TestIsClosedErr(t *testing.T) {
	assert.True(t, isClosedErr(io.EOF))
	assert.True(t, isClosedErr(fmt.Errorf("read: %w", net.ErrClosed)))
	assert.False(t, isClosedErr(errors.New("boom")))
}

func TestConfigDefaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 10*time.Second, c.HandshakeTimeout)
	assert.Equal(t, 30*time.Second, c.IdleTimeout)
	assert.Equal(t, 256, c.SendQueueSize)
	assert.Equal(t, uint32(frame.DefaultMaxPayload), c.MaxPayload)
	assert.Equal(t, 64<<10, c.ChunkSize)
	assert.Equal(t, int64(64<<20), c.MaxResource)
	assert.Equal(t, 4, c.MaxIncoming)
	assert.Zero(t, c.ActionBurst)
	assert.Equal(t, os.TempDir(), c.TempDir)

	limited := &Config{ActionRate: 30}
	require.NoError(t, limited.Validate())
	assert.Equal(t, 120, limited.ActionBurst)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, (&Config{IdleTimeout: -time.Second}).Validate())
	assert.Error(t, (&Config{SendQueueSize: -1}).Validate())
	assert.Error(t, (&Config{MaxPayload: 1024, ChunkSize: 1024}).Validate())
	assert.NoError(t, (&Config{MaxPayload: 1028, ChunkSize: 1024}).Validate())
}

func TestStateAndRoleNames(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, "client", RoleClient.String())
	assert.Equal(t, "server", RoleServer.String())
}

func TestHandshakeReason(t *testing.T) {
	assert.Equal(t, "rejected", handshakeReason(fmt.Errorf("%w: full", ErrRejected)))
	assert.Equal(t, "auth", handshakeReason(ErrAuthFailed))
	assert.Equal(t, "protocol", handshakeReason(ErrProtocol))
	assert.Equal(t, "io", handshakeReason(io.EOF))
}
