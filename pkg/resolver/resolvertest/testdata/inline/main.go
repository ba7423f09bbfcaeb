package main

import (
	"encoding/json"
	"os"
	"runtime"
)

type frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

type report struct {
	Address uint64  `json:"address"`
	Frames  []frame `json:"frames"`
}

//go:noinline
func capture() uintptr {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	return pcs[0]
}

func leaf() uintptr { return capture() }

func middle() uintptr { return leaf() }

//go:noinline
func outer() uintptr { return middle() }

func main() {
	pc := outer()
	// The call instruction sits one byte before the return address.
	r := report{Address: uint64(pc) - 1}
	it := runtime.CallersFrames([]uintptr{pc})
	for {
		f, more := it.Next()
		r.Frames = append(r.Frames, frame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			break
		}
	}
	if err := json.NewEncoder(os.Stdout).Encode(r); err != nil {
		os.Exit(1)
	}
}
