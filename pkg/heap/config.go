package heap

import (
	"flag"
	"fmt"
)

type Config struct {
	MinorHeapWords    int  `yaml:"minor_heap_words"`
	MajorTriggerWords int  `yaml:"major_trigger_words"`
	CheckOwner        bool `yaml:"check_owner"`
	GCStress          bool `yaml:"gc_stress" category:"advanced"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("heap", f)
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MinorHeapWords, prefix+".minor-heap-words", 256*1024, "Size of the young region in words.")
	f.IntVar(&cfg.MajorTriggerWords, prefix+".major-trigger-words", 4*1024*1024, "Words allocated in the major region between two major collections.")
	f.BoolVar(&cfg.CheckOwner, prefix+".check-owner", true, "Fail hard when the heap is used from a goroutine other than the one that created it.")
	f.BoolVar(&cfg.GCStress, prefix+".gc-stress", false, "Run a collection before every allocation. Slow; meant for tests.")
}

func (cfg *Config) Validate() error {
	if cfg.MinorHeapWords < 4*(MaxYoungWosize+1) {
		return fmt.Errorf("invalid minor-heap-words value %d, must be at least %d", cfg.MinorHeapWords, 4*(MaxYoungWosize+1))
	}
	if cfg.MajorTriggerWords <= 0 {
		return fmt.Errorf("invalid major-trigger-words value, must be positive")
	}
	return nil
}
