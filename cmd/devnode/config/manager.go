package config

type Source interface {
	// Load reads the source into c. On the initial load every value is
	// taken as is; afterwards only reloadable values change and each
	// change is propagated to the section listeners.
	Load(c *Config, initial bool) error
}

type ConfigManager struct {
	*Config
	s Source
}

func NewConfigManager(s Source) *ConfigManager {
	return &ConfigManager{
		s:      s,
		Config: DefaultConfig(),
	}
}

func DefaultConfig() *Config {
	c := &Config{
		ExternalHttp: DefaultHTTPConfig(),
		InternalHttp: DefaultHTTPConfig(),
		Api:          DefaultApiConfig(),
		Rpc:          DefaultRPCConfig(),
		Node:         DefaultNodeConfig(),
		Datastore:    DefaultDatastoreConfig(),
	}
	c.ExternalHttp.Address = "127.0.0.1:8545"
	c.InternalHttp.Address = "127.0.0.1:9545"

	return c
}

// Reload validates the source against a scratch config before applying it,
// so a broken file leaves the running configuration untouched.
func (cm *ConfigManager) Reload() error {
	if err := cm.s.Load(DefaultConfig(), true); err != nil {
		return err
	}
	return cm.s.Load(cm.Config, false)
}

func (cm *ConfigManager) Load() error {
	return cm.s.Load(cm.Config, true)
}
