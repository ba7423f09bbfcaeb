package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/symbridge/pkg/bridge"
	"github.com/grafana/symbridge/pkg/heap"
)

type resolveParams struct {
	*configParams
	binary    string
	addresses []string
	boxed     bool
	output    string
}

func addResolveParams(c commander) *resolveParams {
	params := &resolveParams{
		configParams: addConfigFileParams(c),
	}
	c.Flag("boxed", "Pass addresses as boxed machine integers.").Default("false").BoolVar(&params.boxed)
	c.Flag("output", "How to print the results: console or json.").Default(outputConsole).EnumVar(&params.output, outputConsole, outputJSON)
	c.Arg("binary", "Path to the ELF executable.").Required().StringVar(&params.binary)
	c.Arg("address", "Addresses to resolve, in hex with a 0x prefix or decimal.").Required().StringsVar(&params.addresses)
	return params
}

type result struct {
	Address  uint64           `json:"address"`
	Response *bridge.Response `json:"response"`
}

func parseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	var (
		n   uint64
		err error
	)
	if hex, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		n, err = strconv.ParseUint(hex, 16, 64)
	} else {
		n, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return n, nil
}

func parseAddresses(args []string) ([]uint64, error) {
	addrs := make([]uint64, 0, len(args))
	for _, s := range args {
		n, err := parseAddress(s)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, n)
	}
	return addrs, nil
}

func resolve(ctx context.Context, params *resolveParams) error {
	cfg, err := loadConfig(params.configParams)
	if err != nil {
		return err
	}
	addrs, err := parseAddresses(params.addresses)
	if err != nil {
		return err
	}

	// The heap belongs to this goroutine from here on.
	b, err := bridge.NewFromConfig(logger, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer b.Close()

	results := symbolizeAll(b, params.binary, addrs, params.boxed)
	stats := b.Heap().Stats()
	level.Debug(logger).Log(
		"msg", "symbolized addresses",
		"addresses", len(addrs),
		"filenames", b.Filenames(),
		"minor_collections", stats.MinorCollections,
		"major_collections", stats.MajorCollections,
		"allocated", humanize.Bytes(uint64(stats.MinorWords+stats.MajorWords)*8),
		"static", humanize.Bytes(uint64(stats.StaticWords)*8),
	)
	return writeResults(output(ctx), params.output, results)
}

func symbolizeAll(b *bridge.Bridge, binary string, addrs []uint64, boxed bool) []result {
	h := b.Heap()
	path := h.AllocStaticString(binary)
	results := make([]result, 0, len(addrs))
	for _, addr := range addrs {
		var v heap.Value
		if boxed {
			boxedAddr := h.AllocNativeint(addr)
			v = b.SymbolizeBoxed(path, boxedAddr)
		} else {
			v = b.Symbolize(path, addr)
		}
		resp, _ := bridge.Decode(h, v)
		results = append(results, result{Address: addr, Response: resp})
	}
	return results
}
