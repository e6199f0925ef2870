package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

const (
	// DefaultInsName is the instance key used when a table has no tag.
	DefaultInsName = "default"
)

// Errors returned by Manager. Callers match them with errors.Is.
var (
	ErrPluginNotFound      = errors.New("plugin not found")      // No factory or instance under the name or tag
	ErrDuplicatePlugin     = errors.New("duplicate plugin")      // Two instances of a type share a tag
	ErrInvalidConfigFormat = errors.New("invalid config format") // Malformed [plugin] table or config type
	ErrConfigDecode        = errors.New("config decode error")   // mapstructure could not decode a table
	ErrConfigInvalid       = errors.New("config invalid")        // Validate rejected a decoded config
	ErrFactorySetup        = errors.New("factory setup error")   // Setup returned an error
)

type instance struct {
	plugin  Plugin
	factory Factory
}

// Manager owns registered factories and the instances built from config.
type Manager struct {
	factories map[Type]map[string]Factory  // Type, then factory name
	plugins   map[Type]map[string]instance // Type, then tag
	order     []instance                   // Setup order; DestroyPlugins walks it in reverse
	lock      sync.RWMutex
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{
		factories: make(map[Type]map[string]Factory),
		plugins:   make(map[Type]map[string]instance),
	}
}

// RegisterFactory makes f available to SetupPlugins. A later registration with the same type and
// name replaces the earlier one.
func (m *Manager) RegisterFactory(f Factory) {
	m.lock.Lock()
	defer m.lock.Unlock()

	factories, ok := m.factories[f.Type()]
	if !ok {
		factories = make(map[string]Factory)
		m.factories[f.Type()] = factories
	}
	factories[f.Name()] = f
}

// SetupPlugins builds every instance described by pluginConf, the decoded [plugin] table.
// Types without a registered factory are skipped. Tables are processed in name order so
// failures are reproducible.
func (m *Manager) SetupPlugins(pluginConf map[string]any) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, typeName := range sortedKeys(pluginConf) {
		pluginType := Type(typeName)
		factories, ok := m.factories[pluginType]
		if !ok {
			continue
		}

		tables, ok := pluginConf[typeName].(map[string]any)
		if !ok {
			return fmt.Errorf("%w for plugin type '%s'", ErrInvalidConfigFormat, pluginType)
		}

		for _, name := range sortedKeys(tables) {
			if err := m.setupOne(pluginType, factories, name, tables[name]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) setupOne(typ Type, factories map[string]Factory, name string, raw any) error {
	factory, ok := factories[name]
	if !ok {
		return fmt.Errorf("%w: no factory for '%s':'%s'", ErrPluginNotFound, typ, name)
	}
	table, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("%w for plugin '%s':'%s'", ErrInvalidConfigFormat, typ, name)
	}

	cfg := factory.ConfigType()
	if cfg == nil {
		return fmt.Errorf("%w: factory '%s':'%s' has no config type", ErrInvalidConfigFormat, typ, name)
	}
	if err := DecodeConfig(table, cfg); err != nil {
		return fmt.Errorf("'%s':'%s': %w", typ, name, err)
	}

	key := DefaultInsName
	if tag, ok := table["tag"].(string); ok && tag != "" {
		key = tag
	}
	if _, exists := m.plugins[typ][key]; exists {
		return fmt.Errorf("%w: '%s' for type '%s'", ErrDuplicatePlugin, key, typ)
	}

	ins, err := factory.Setup(cfg)
	if err != nil {
		return fmt.Errorf("%w: '%s':'%s': %v", ErrFactorySetup, typ, name, err)
	}
	if _, ok := m.plugins[typ]; !ok {
		m.plugins[typ] = make(map[string]instance)
	}
	inst := instance{plugin: ins, factory: factory}
	m.plugins[typ][key] = inst
	m.order = append(m.order, inst)
	return nil
}

// GetPlugin returns the instance registered under key, the table's tag or DefaultInsName.
func (m *Manager) GetPlugin(typ Type, key string) (Plugin, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	plugins, ok := m.plugins[typ]
	if !ok {
		return nil, fmt.Errorf("%w: no plugins of type '%s'", ErrPluginNotFound, typ)
	}
	ins, ok := plugins[key]
	if !ok {
		return nil, fmt.Errorf("%w: '%s' of type '%s'", ErrPluginNotFound, key, typ)
	}
	return ins.plugin, nil
}

// GetDefaultPlugin returns the untagged instance of typ.
func (m *Manager) GetDefaultPlugin(typ Type) (Plugin, error) {
	return m.GetPlugin(typ, DefaultInsName)
}

// Plugins returns every instance of typ.
func (m *Manager) Plugins(typ Type) []Plugin {
	m.lock.RLock()
	defer m.lock.RUnlock()

	out := make([]Plugin, 0, len(m.plugins[typ]))
	for _, key := range sortedKeys(m.plugins[typ]) {
		out = append(out, m.plugins[typ][key].plugin)
	}
	return out
}

// DestroyPlugins tears instances down in reverse setup order.
func (m *Manager) DestroyPlugins() {
	m.lock.Lock()
	defer m.lock.Unlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		m.order[i].factory.Destroy(m.order[i].plugin)
	}
	m.order = nil
	m.plugins = make(map[Type]map[string]instance)
}

// DecodeConfig decodes a raw config table into out, a pointer to a struct with mapstructure
// tags, and validates it when out implements Validator. Durations may be written as strings
// such as "2s"; fields implementing encoding.TextUnmarshaler are decoded from strings.
func DecodeConfig(table map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		Result: out,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigDecode, err)
	}
	if err := decoder.Decode(table); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigDecode, err)
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
