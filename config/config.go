// Package config loads the application configuration described in
// SPEC_FULL.md §2: one YAML document with a subsection per subsystem,
// unmarshaled with gopkg.in/yaml.v3 and assembled through chained builders
// mirroring the teacher's config.DeviceBuilder (config/config.go).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WorldConfig describes the environment's shape and addressing mode.
type WorldConfig struct {
	Shape    []int32 `yaml:"shape"`
	Toroidal bool    `yaml:"toroidal"`
	Seed     int64   `yaml:"seed"`
}

// RegisterBanksConfig fixes the size of each organism register bank.
type RegisterBanksConfig struct {
	DR  int `yaml:"dr"`
	PR  int `yaml:"pr"`
	FPR int `yaml:"fpr"`
	LR  int `yaml:"lr"`
}

// QueueConfig configures the Tick Queue's byte budget.
type QueueConfig struct {
	BudgetBytes int64 `yaml:"budgetBytes"`
}

// PersistenceConfig configures the Persistence Service's batching.
type PersistenceConfig struct {
	DatabasePath  string        `yaml:"databasePath"`
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batchSize"`
	FlushTimeout  time.Duration `yaml:"flushTimeout"`
	RetryAttempts int           `yaml:"retryAttempts"`
}

// IndexerConfig configures the Debug Indexer's read/transform/write loop.
type IndexerConfig struct {
	DatabasePath         string `yaml:"databasePath"`
	Table                string `yaml:"table"`
	BatchSize            int    `yaml:"batchSize"`
	HaltOnTransformError bool   `yaml:"haltOnTransformError"`
	ParallelProcessing   bool   `yaml:"parallelProcessing"`
	WorkerCount          int    `yaml:"workerCount"`
}

// LoggingConfig holds the logging section of the config file. cmd/evochora
// does not apply it: its slog handler is always JSON on stderr at Info level.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StatusConfig configures the manager's read-only status HTTP surface
// (the attachment point an external Debug Server mounts its own routes
// on). An empty ListenAddr disables the server entirely.
type StatusConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// Config is the top-level, fully-decoded application configuration.
type Config struct {
	World         WorldConfig         `yaml:"world"`
	RegisterBanks RegisterBanksConfig `yaml:"registerBanks"`
	Queue         QueueConfig         `yaml:"queue"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Indexer       IndexerConfig       `yaml:"indexer"`
	Logging       LoggingConfig       `yaml:"logging"`
	Status        StatusConfig        `yaml:"status"`
}

// Default returns a Config with every subsystem's documented default,
// matching the defaults each service's own Builder already falls back to.
func Default() Config {
	return Config{
		World:         WorldConfig{Shape: []int32{64, 64}, Toroidal: true, Seed: 1},
		RegisterBanks: RegisterBanksConfig{DR: 8, PR: 4, FPR: 4, LR: 4},
		Queue:         QueueConfig{BudgetBytes: 512 * 1024 * 1024},
		Persistence: PersistenceConfig{
			DatabasePath: "raw.db", Table: "raw_ticks", BatchSize: 1000,
			FlushTimeout: time.Second, RetryAttempts: 3,
		},
		Indexer: IndexerConfig{
			DatabasePath: "prepared.db", Table: "prepared_ticks", BatchSize: 1000,
			HaltOnTransformError: true, WorkerCount: 1,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// Builder assembles a Config from a default baseline plus chained
// overrides, matching the teacher's DeviceBuilder value-receiver
// fluent-chain idiom (config/config.go).
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder seeded with Default().
func NewBuilder() Builder {
	return Builder{cfg: Default()}
}

// WithFile merges a YAML document's fields on top of the builder's current
// config. Fields absent from the document retain their prior value.
func (b Builder) WithFile(path string) (Builder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &b.cfg); err != nil {
		return b, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return b, nil
}

// WithWorld overrides the world subsection.
func (b Builder) WithWorld(w WorldConfig) Builder { b.cfg.World = w; return b }

// Build returns the assembled Config.
func (b Builder) Build() Config { return b.cfg }
