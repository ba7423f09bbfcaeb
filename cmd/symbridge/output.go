package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

const (
	outputConsole = "console"
	outputJSON    = "json"
)

type contextKey uint8

const (
	contextKeyOutput contextKey = iota
)

func withOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, contextKeyOutput, w)
}

func output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(contextKeyOutput).(io.Writer); ok {
		return w
	}
	return os.Stdout
}

func writeResults(w io.Writer, format string, results []result) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	case outputConsole:
		writeTable(w, results)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// writeTable prints one row per frame. Inlined frames come first, innermost
// at the top, followed by the enclosing function.
func writeTable(w io.Writer, results []result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Address", "Depth", "Function", "File", "Line", "Column"})
	table.SetAutoWrapText(false)
	for _, r := range results {
		addr := fmt.Sprintf("0x%x", r.Address)
		if r.Response == nil {
			table.Append([]string{addr, "", "??", "", "", ""})
			continue
		}
		for i, f := range r.Response.InlinedFrames {
			table.Append([]string{
				addr,
				strconv.Itoa(i),
				f.DemangledName,
				f.Filename,
				strconv.Itoa(f.Line),
				strconv.Itoa(f.Column),
			})
		}
		table.Append([]string{
			addr,
			strconv.Itoa(len(r.Response.InlinedFrames)),
			r.Response.DemangledName,
			"", "", "",
		})
	}
	table.Render()
}
