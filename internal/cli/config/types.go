// Package config loads CLI configuration from bqdrift.yaml,
// environment variables, and command-line flags.
package config

// Config holds every CLI-level setting.
type Config struct {
	// Project is the production GCP project.
	Project string `koanf:"project"`
	// QueriesDir is the root of the query repository.
	QueriesDir string `koanf:"queries_dir"`
	// Dataset is the tracking dataset holding _bqdrift_state and
	// _bqdrift_history.
	Dataset string `koanf:"dataset"`
	// ScratchProject receives scratch-mode writes.
	ScratchProject string `koanf:"scratch_project"`
	// ScratchTTLHours is the scratch table auto-expiry.
	ScratchTTLHours int `koanf:"scratch_ttl"`
	// AllowSourceMutation lets sync proceed over immutability
	// violations, overwriting stored SQL.
	AllowSourceMutation bool `koanf:"allow_source_mutation"`
	// Parallelism caps concurrent queries per dependency level.
	Parallelism int `koanf:"parallelism"`
	// TimeoutSeconds bounds each warehouse statement.
	TimeoutSeconds int `koanf:"timeout"`
	// Output selects table, yaml, or json rendering.
	Output string `koanf:"output"`
	// Verbose enables debug logging.
	Verbose bool `koanf:"verbose"`
}

// Defaults applied before any other source.
const (
	DefaultQueriesDir  = "queries"
	DefaultDataset     = "bqdrift_tracking"
	DefaultScratchTTL  = 24
	DefaultParallelism = 4
	DefaultTimeout     = 600
	DefaultOutput      = "table"
)
