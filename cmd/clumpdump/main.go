// Copyright 2020-2026 The clumpvm Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// clumpdump drives a scripted allocation scenario against an arena and
// dumps the resulting clump tree as YAML, for manual inspection.
package main

import (
	"flag"
	"fmt"
	"os"
	"unsafe"

	"github.com/cryptborne/clumpvm"
)

var (
	clumpSize   = flag.Int64("clump-size", int64(clumpvm.DefaultClumpSize), "clump size in bytes")
	allocs      = flag.Int("allocs", 64, "number of objects to allocate before dumping")
	objSize     = flag.Int64("obj-size", 32, "size in bytes of each allocated object")
	freeEvery   = flag.Int("free-every", 3, "after every Nth allocation, free the oldest still-live object; 0 disables")
	withObjects = flag.Bool("objects", false, "include per-object detail in the dump")
	output      = flag.String("o", "-", "location to dump to; defaults to stdout")
)

// run builds an arena, replays a scripted fill-and-free scenario against
// it, and writes the resulting tree dump to out.
func run(out *os.File) error {
	a, err := clumpvm.New(clumpvm.WithClumpSize(uintptr(*clumpSize)))
	if err != nil {
		return fmt.Errorf("clumpdump: new arena: %w", err)
	}

	live := make([]unsafe.Pointer, 0, *allocs)
	for i := 0; i < *allocs; i++ {
		p := a.AllocBytes(uintptr(*objSize), "clumpdump")
		if p == nil {
			return fmt.Errorf("clumpdump: allocation %d failed: %w", i, a.LastError())
		}
		live = append(live, p)

		if *freeEvery > 0 && (i+1)%*freeEvery == 0 && len(live) > 0 {
			victim := live[0]
			live = live[1:]
			a.FreeObject(victim)
		}
	}

	snap := a.DumpTree(*withObjects)
	yaml, err := snap.YAML()
	if err != nil {
		return fmt.Errorf("clumpdump: marshal snapshot: %w", err)
	}

	_, err = out.Write(yaml)
	return err
}

func main() {
	flag.Parse()

	out := os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if err := run(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
