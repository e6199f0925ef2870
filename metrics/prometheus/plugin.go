package prometheus

import (
	"errors"

	"github.com/linchenxuan/slingshot/metrics"
	"github.com/linchenxuan/slingshot/plugin"
)

const _factoryName = "prometheus"

type factory struct{}

var _ plugin.Factory = (*factory)(nil)

// NewFactory returns the prometheus reporter factory.
func NewFactory() plugin.Factory {
	return &factory{}
}

// Type implements plugin.Factory.
func (f *factory) Type() plugin.Type { return plugin.Metrics }

func (f *factory) Name() string { return _factoryName }

// ConfigType returns the value the [plugin.metrics.prometheus] table is decoded into.
func (f *factory) ConfigType() any { return &ReporterConfig{} }

// Setup builds a reporter and registers it with the metrics package.
func (f *factory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*ReporterConfig)
	if !ok {
		return nil, errors.New("prometheus setup: invalid config type")
	}
	r, err := NewReporter(cfg)
	if err != nil {
		return nil, err
	}
	metrics.AddReporter(r)
	return r, nil
}

// Destroy stops the reporter.
func (f *factory) Destroy(p plugin.Plugin) {
	if r, ok := p.(*Reporter); ok && r != nil {
		r.Stop()
	}
}
