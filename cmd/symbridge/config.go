package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/drone/envsubst"
	"github.com/grafana/dskit/flagext"
	"gopkg.in/yaml.v3"

	"github.com/grafana/symbridge/pkg/bridge"
)

type configParams struct {
	configFile      string
	configExpandEnv bool
}

func addConfigFileParams(c commander) *configParams {
	params := &configParams{}
	c.Flag("config.file", "YAML file with heap and resolver settings. Flag defaults apply to every field it leaves out.").Default("").StringVar(&params.configFile)
	c.Flag("config.expand-env", "Expand ${VAR} references in the config file.").Default("false").BoolVar(&params.configExpandEnv)
	return params
}

// loadConfig starts from the registered flag defaults and overlays the config
// file, when one is given.
func loadConfig(params *configParams) (bridge.Config, error) {
	var cfg bridge.Config
	flagext.DefaultValues(&cfg)
	if params.configFile == "" {
		return cfg, cfg.Validate()
	}

	buf, err := os.ReadFile(params.configFile)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if params.configExpandEnv {
		s, err := envsubst.EvalEnv(string(buf))
		if err != nil {
			return cfg, fmt.Errorf("failed to expand env vars in config file: %w", err)
		}
		buf = []byte(s)
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed parsing config file %s: %w", params.configFile, err)
	}
	return cfg, cfg.Validate()
}

func printConfig(ctx context.Context, params *configParams) error {
	cfg, err := loadConfig(params)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(output(ctx))
	defer enc.Close()
	return enc.Encode(cfg)
}
