package bridge

import (
	"flag"
	"fmt"

	"github.com/grafana/symbridge/pkg/heap"
	"github.com/grafana/symbridge/pkg/resolver"
)

type Config struct {
	Heap     heap.Config     `yaml:"heap"`
	Resolver resolver.Config `yaml:"resolver"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.Heap.RegisterFlags(f)
	cfg.Resolver.RegisterFlags(f)
}

func (cfg *Config) Validate() error {
	if err := cfg.Heap.Validate(); err != nil {
		return fmt.Errorf("invalid heap config: %w", err)
	}
	if err := cfg.Resolver.Validate(); err != nil {
		return fmt.Errorf("invalid resolver config: %w", err)
	}
	return nil
}
