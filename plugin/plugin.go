// Package plugin builds pluggable components from the [plugin.<type>.<name>] tables of the
// application config.
package plugin

// Type is the kind of component a factory builds.
type Type string

const (
	// Metrics reporters.
	Metrics Type = "metrics"
	// Transport builds listeners and dialers for peer connections.
	Transport Type = "transport"
	// Directory builds discovery directories.
	Directory Type = "directory"
)

// Factory builds plugin instances of one implementation.
type Factory interface {
	// Type returns the plugin type.
	Type() Type
	// Name returns the implementation name, the key under [plugin.<type>].
	Name() string
	// ConfigType returns a pointer to a zero config struct. The manager decodes the raw table
	// into it with mapstructure and validates it before calling Setup.
	ConfigType() any
	// Setup builds an instance from the decoded config.
	Setup(cfg any) (Plugin, error)
	// Destroy releases an instance built by Setup.
	Destroy(p Plugin)
}

// Plugin is an instance built by a Factory.
type Plugin interface {
	// FactoryName returns the name of the factory that built the instance.
	FactoryName() string
}

// Validator is implemented by config structs that can check themselves.
type Validator interface {
	Validate() error
}
