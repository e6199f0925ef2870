package plugin

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	Tag     string        `mapstructure:"tag"`
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (c *mockConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	return nil
}

type mockFactory struct {
	typ       Type
	name      string
	setupErr  error
	setups    []*mockConfig
	destroyed []string
	log       *[]string
}

func (m *mockFactory) Type() Type      { return m.typ }
func (m *mockFactory) Name() string    { return m.name }
func (m *mockFactory) ConfigType() any { return &mockConfig{} }

func (m *mockFactory) Setup(cfg any) (Plugin, error) {
	if m.setupErr != nil {
		return nil, m.setupErr
	}
	c := cfg.(*mockConfig)
	m.setups = append(m.setups, c)
	return &mockPlugin{name: m.name, cfg: c}, nil
}

func (m *mockFactory) Destroy(p Plugin) {
	m.destroyed = append(m.destroyed, p.FactoryName())
	if m.log != nil {
		*m.log = append(*m.log, m.name)
	}
}

type mockPlugin struct {
	name string
	cfg  *mockConfig
}

func (p *mockPlugin) FactoryName() string { return p.name }

func TestSetupPlugins(t *testing.T) {
	tcp := &mockFactory{typ: Transport, name: "tcp"}
	m := NewManager()
	m.RegisterFactory(tcp)

	err := m.SetupPlugins(map[string]any{
		"transport": map[string]any{
			"tcp": map[string]any{"addr": ":7777", "timeout": "10s"},
		},
		"unregistered": map[string]any{"x": map[string]any{}},
	})
	require.NoError(t, err)
	require.Len(t, tcp.setups, 1)
	assert.Equal(t, ":7777", tcp.setups[0].Addr)
	assert.Equal(t, 10*time.Second, tcp.setups[0].Timeout)

	p, err := m.GetDefaultPlugin(Transport)
	require.NoError(t, err)
	assert.Equal(t, "tcp", p.FactoryName())
	assert.Len(t, m.Plugins(Transport), 1)
	assert.Empty(t, m.Plugins(Directory))
}

func TestSetupPluginsErrors(t *testing.T) {
	tests := []struct {
		name    string
		conf    map[string]any
		factory *mockFactory
		want    error
	}{
		{
			name:    "type table not a map",
			conf:    map[string]any{"transport": "tcp"},
			factory: &mockFactory{typ: Transport, name: "tcp"},
			want:    ErrInvalidConfigFormat,
		},
		{
			name:    "unknown implementation",
			conf:    map[string]any{"transport": map[string]any{"quic": map[string]any{}}},
			factory: &mockFactory{typ: Transport, name: "tcp"},
			want:    ErrPluginNotFound,
		},
		{
			name:    "bad field type",
			conf:    map[string]any{"transport": map[string]any{"tcp": map[string]any{"addr": []int{1}}}},
			factory: &mockFactory{typ: Transport, name: "tcp"},
			want:    ErrConfigDecode,
		},
		{
			name:    "validation",
			conf:    map[string]any{"transport": map[string]any{"tcp": map[string]any{}}},
			factory: &mockFactory{typ: Transport, name: "tcp"},
			want:    ErrConfigInvalid,
		},
		{
			name:    "setup failure",
			conf:    map[string]any{"transport": map[string]any{"tcp": map[string]any{"addr": ":1"}}},
			factory: &mockFactory{typ: Transport, name: "tcp", setupErr: errors.New("boom")},
			want:    ErrFactorySetup,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			m.RegisterFactory(tt.factory)
			assert.ErrorIs(t, m.SetupPlugins(tt.conf), tt.want)
		})
	}
}

func TestTaggedInstancesAndDuplicates(t *testing.T) {
	memory := &mockFactory{typ: Directory, name: "memory"}
	etcd := &mockFactory{typ: Directory, name: "etcd"}
	m := NewManager()
	m.RegisterFactory(memory)
	m.RegisterFactory(etcd)

	err := m.SetupPlugins(map[string]any{
		"directory": map[string]any{
			"memory": map[string]any{"addr": "local", "tag": "lan"},
			"etcd":   map[string]any{"addr": "127.0.0.1:2379"},
		},
	})
	require.NoError(t, err)

	p, err := m.GetPlugin(Directory, "lan")
	require.NoError(t, err)
	assert.Equal(t, "memory", p.FactoryName())
	p, err = m.GetDefaultPlugin(Directory)
	require.NoError(t, err)
	assert.Equal(t, "etcd", p.FactoryName())

	_, err = m.GetPlugin(Directory, "missing")
	assert.ErrorIs(t, err, ErrPluginNotFound)
	_, err = m.GetPlugin(Metrics, DefaultInsName)
	assert.ErrorIs(t, err, ErrPluginNotFound)

	err = m.SetupPlugins(map[string]any{
		"directory": map[string]any{"memory": map[string]any{"addr": "again", "tag": "lan"}},
	})
	assert.ErrorIs(t, err, ErrDuplicatePlugin)
}

func TestDestroyPluginsReverseOrder(t *testing.T) {
	var order []string
	a := &mockFactory{typ: Directory, name: "a", log: &order}
	b := &mockFactory{typ: Transport, name: "b", log: &order}
	m := NewManager()
	m.RegisterFactory(a)
	m.RegisterFactory(b)

	require.NoError(t, m.SetupPlugins(map[string]any{
		"directory": map[string]any{"a": map[string]any{"addr": "x"}},
		"transport": map[string]any{"b": map[string]any{"addr": "y"}},
	}))
	m.DestroyPlugins()
	assert.Equal(t, []string{"b", "a"}, order)

	_, err := m.GetDefaultPlugin(Directory)
	assert.ErrorIs(t, err, ErrPluginNotFound)
}
