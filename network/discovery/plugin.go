package discovery

import (
	"errors"
	"fmt"

	"github.com/linchenxuan/slingshot/log"
	"github.com/linchenxuan/slingshot/plugin"
)

const (
	_memoryFactoryName = "memory"
	_etcdFactoryName   = "etcd"
)

// MemoryConfig configures the in-process directory.
type MemoryConfig struct {
	Tag string `mapstructure:"tag"` // Plugin instance tag
}

type memoryFactory struct{}

// NewMemoryFactory creates the factory of the in-process directory.
func NewMemoryFactory() plugin.Factory { return memoryFactory{} }

func (memoryFactory) Type() plugin.Type { return plugin.Directory }
func (memoryFactory) Name() string      { return _memoryFactoryName }
func (memoryFactory) ConfigType() any   { return &MemoryConfig{} }

func (memoryFactory) Setup(any) (plugin.Plugin, error) {
	return NewMemoryDirectory(), nil
}

func (memoryFactory) Destroy(plugin.Plugin) {}

type etcdFactory struct{}

// NewEtcdFactory creates the factory of the etcd directory.
func NewEtcdFactory() plugin.Factory { return etcdFactory{} }

func (etcdFactory) Type() plugin.Type { return plugin.Directory }
func (etcdFactory) Name() string      { return _etcdFactoryName }
func (etcdFactory) ConfigType() any   { return &EtcdConfig{} }

func (etcdFactory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*EtcdConfig)
	if !ok {
		return nil, errors.New("etcd directory setup failed: invalid config type")
	}
	d, err := NewEtcdDirectory(cfg)
	if err != nil {
		return nil, fmt.Errorf("etcd directory setup failed: %w", err)
	}
	return d, nil
}

func (etcdFactory) Destroy(p plugin.Plugin) {
	d, ok := p.(*EtcdDirectory)
	if !ok {
		return
	}
	if err := d.Close(); err != nil {
		log.Warn().Err(err).Msg("close etcd directory")
	}
}
