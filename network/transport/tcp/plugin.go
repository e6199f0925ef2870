package tcp

import (
	"errors"
	"fmt"

	"github.com/linchenxuan/slingshot/plugin"
)

type factory struct{}

var _ plugin.Factory = (*factory)(nil)

// NewFactory creates the TCP network plugin factory.
func NewFactory() plugin.Factory {
	return &factory{}
}

func (f *factory) Type() plugin.Type { return plugin.Transport }
func (f *factory) Name() string      { return _factoryName }
func (f *factory) ConfigType() any   { return &Config{} }

// Setup builds a TCP network from its decoded config.
func (f *factory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*Config)
	if !ok {
		return nil, errors.New("tcp setup failed: invalid config type")
	}
	n, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("tcp setup failed: %w", err)
	}
	return n, nil
}

// Destroy is a no-op: a network holds no resources of its own.
func (f *factory) Destroy(plugin.Plugin) {}
