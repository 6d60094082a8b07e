package config

import (
	"sync"
	"time"

	"github.com/blocknative/devnode/structs"
)

// Config is the file backed configuration. Every section maps to an ini
// section through its config tag. Fields tagged reload:"true" may change
// while running; listeners subscribed to the section are told about it.
type Config struct {
	ExternalHttp *HTTPConfig      `config:"external_http"`
	InternalHttp *HTTPConfig      `config:"internal_http"`
	Api          *ApiConfig       `config:"api"`
	Rpc          *RPCConfig       `config:"rpc"`
	Node         *NodeConfig      `config:"node"`
	Datastore    *DatastoreConfig `config:"datastore"`
}

type HTTPConfig struct {
	Address      string        `config:"address"`
	ReadTimeout  time.Duration `config:"read_timeout"`
	WriteTimeout time.Duration `config:"write_timeout"`
	IdleTimeout  time.Duration `config:"idle_timeout"`

	Listeners
}

func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
}

type ApiConfig struct {
	MaxBodySize    int64         `config:"max_body_size" reload:"true"`
	WSWriteQueue   int           `config:"ws_write_queue"`
	WSPingInterval time.Duration `config:"ws_ping_interval"`

	Listeners
}

func DefaultApiConfig() *ApiConfig {
	return &ApiConfig{
		MaxBodySize:    5 << 20,
		WSWriteQueue:   256,
		WSPingInterval: 30 * time.Second,
	}
}

type RPCConfig struct {
	// BatchConcurrency bounds the calls of one batch run in parallel. Zero
	// means unbounded.
	BatchConcurrency int64 `config:"batch_concurrency" reload:"true"`

	Listeners
}

func DefaultRPCConfig() *RPCConfig {
	return &RPCConfig{}
}

type NodeConfig struct {
	Backend          string `config:"backend"`
	ChainID          uint64 `config:"chain_id"`
	GasLimit         uint64 `config:"gas_limit"`
	GenesisTimestamp uint64 `config:"genesis_timestamp"`
	LoggingEnabled   bool   `config:"logging_enabled" reload:"true"`

	Listeners
}

func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Backend:        "memory",
		ChainID:        31337,
		GasLimit:       30_000_000,
		LoggingEnabled: true,
	}
}

type DatastoreConfig struct {
	Dir             string `config:"dir"`
	HeaderCacheSize int    `config:"header_cache_size"`
	SyncWrites      bool   `config:"sync_writes"`

	Listeners
}

func DefaultDatastoreConfig() *DatastoreConfig {
	return &DatastoreConfig{
		Dir:             "/tmp/devnode",
		HeaderCacheSize: 1_024,
	}
}

// Listeners fans configuration changes of one section out to subscribers.
type Listeners struct {
	mu sync.Mutex
	ls []structs.ChangeListener
}

func (l *Listeners) SubscribeForUpdates(cl structs.ChangeListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ls = append(l.ls, cl)
}

// Propagate hands the change to every subscriber and returns the first
// error. All subscribers are called regardless.
func (l *Listeners) Propagate(c structs.OldNew) (err error) {
	l.mu.Lock()
	ls := append([]structs.ChangeListener(nil), l.ls...)
	l.mu.Unlock()

	for _, cl := range ls {
		if e := cl.OnConfigChange(c); e != nil && err == nil {
			err = e
		}
	}
	return err
}
