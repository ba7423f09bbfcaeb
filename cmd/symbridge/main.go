package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/version"
	"gopkg.in/alecthomas/kingpin.v2"
)

var cfg struct {
	verbose bool
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	ctx := withOutput(context.Background(), os.Stdout)

	app := kingpin.New(filepath.Base(os.Args[0]), "Resolve machine addresses into function names and inlined frames.").UsageWriter(os.Stdout)
	app.Version(version.Print("symbridge"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)

	resolveCmd := app.Command("resolve", "Symbolize addresses in an ELF executable through the managed heap.")
	resolveParams := addResolveParams(resolveCmd)

	configCmd := app.Command("config", "Print the effective configuration as YAML.")
	configParams := addConfigFileParams(configCmd)

	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	switch parsedCmd {
	case resolveCmd.FullCommand():
		if err := resolve(ctx, resolveParams); err != nil {
			os.Exit(checkError(err))
		}
	case configCmd.FullCommand():
		if err := printConfig(ctx, configParams); err != nil {
			os.Exit(checkError(err))
		}
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}

type commander interface {
	Flag(name, help string) *kingpin.FlagClause
	Arg(name, help string) *kingpin.ArgClause
}
