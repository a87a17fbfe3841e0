// Package config implements the Configuration component (spec.md §3, §6):
// an immutable snapshot of worker-pool sizing and the GC reduction budget,
// loaded once at process start from environment variables layered over an
// optional TOML file, grounded on the teacher's pkg/fpm/config.LoadConfig
// env/file-layering shape and generalized from FPM pool directives to the
// VM's thread/reduction knobs.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/BurntSushi/toml"
	"go.uber.org/automaxprocs/maxprocs"
)

// MaxNetpollThreads is the clamp spec.md §6 mandates for NETPOLL_THREADS.
const MaxNetpollThreads = 127

const defaultReductionBudget = 1000

// Config is the immutable snapshot every worker pool and the interpreter
// consult. It is built once by Load and never mutated afterward.
type Config struct {
	PrimaryThreads  int
	SecondaryThreads int
	NetpollThreads  int
	ReductionBudget int
}

// fileOverlay is the optional TOML file's shape; any field left unset falls
// through to the environment/default layer beneath it.
type fileOverlay struct {
	PrimaryThreads  *int `toml:"primary_threads"`
	SecondaryThreads *int `toml:"secondary_threads"`
	NetpollThreads  *int `toml:"netpoll_threads"`
	ReductionBudget *int `toml:"reductions"`
}

// Load builds a Config from defaults, an optional TOML file at path (empty
// path skips this layer), and environment variables (highest precedence),
// per spec.md §6: "Invalid values and zero are ignored (defaults retained)."
func Load(path string) (*Config, error) {
	maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	cfg := &Config{
		PrimaryThreads:   runtime.GOMAXPROCS(0),
		SecondaryThreads: runtime.GOMAXPROCS(0) * 4,
		NetpollThreads:   1,
		ReductionBudget:  defaultReductionBudget,
	}

	if path != "" {
		var overlay fileOverlay
		if _, err := toml.DecodeFile(path, &overlay); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		applyOverlay(cfg, overlay)
	}

	applyEnv("PROCESS_THREADS", &cfg.PrimaryThreads)
	applyEnv("BACKUP_THREADS", &cfg.SecondaryThreads)
	applyEnv("REDUCTIONS", &cfg.ReductionBudget)
	applyEnv("NETPOLL_THREADS", &cfg.NetpollThreads)

	if cfg.NetpollThreads > MaxNetpollThreads {
		cfg.NetpollThreads = MaxNetpollThreads
	}
	if cfg.ReductionBudget <= 0 {
		cfg.ReductionBudget = defaultReductionBudget
	}
	return cfg, nil
}

func applyOverlay(cfg *Config, overlay fileOverlay) {
	if overlay.PrimaryThreads != nil && *overlay.PrimaryThreads > 0 {
		cfg.PrimaryThreads = *overlay.PrimaryThreads
	}
	if overlay.SecondaryThreads != nil && *overlay.SecondaryThreads > 0 {
		cfg.SecondaryThreads = *overlay.SecondaryThreads
	}
	if overlay.NetpollThreads != nil && *overlay.NetpollThreads > 0 {
		cfg.NetpollThreads = *overlay.NetpollThreads
	}
	if overlay.ReductionBudget != nil && *overlay.ReductionBudget > 0 {
		cfg.ReductionBudget = *overlay.ReductionBudget
	}
}

// applyEnv parses a positive integer environment variable into dst,
// leaving dst untouched on absence, zero, or a malformed value.
func applyEnv(name string, dst *int) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return
	}
	*dst = n
}
