package tcp

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/linchenxuan/slingshot/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopback(t *testing.T) {
	n, err := New(nil)
	require.NoError(t, err)
	ln, err := n.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.Copy(c, c)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := n.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestConfigValidate(t *testing.T) {
	c := &Config{}
	require.NoError(t, c.Validate())
	assert.Equal(t, 2*time.Second, c.KeepAlive)
	assert.Error(t, (&Config{ReadBuffer: -1}).Validate())
}

func TestFactory(t *testing.T) {
	m := plugin.NewManager()
	m.RegisterFactory(NewFactory())
	require.NoError(t, m.SetupPlugins(map[string]any{
		"transport": map[string]any{
			"tcp": map[string]any{"keepAlive": "5s", "readBuffer": 65536},
		},
	}))
	defer m.DestroyPlugins()

	p, err := m.GetDefaultPlugin(plugin.Transport)
	require.NoError(t, err)
	n, ok := p.(*Network)
	require.True(t, ok)
	assert.Equal(t, "tcp", n.Name())
	assert.Equal(t, 5*time.Second, n.cfg.KeepAlive)
	assert.Equal(t, 65536, n.cfg.ReadBuffer)
}
