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

package clumpvm

import (
	"github.com/cryptborne/clumpvm/internal/clump"
	"github.com/cryptborne/clumpvm/internal/dump"
	"github.com/cryptborne/clumpvm/internal/header"
	"github.com/cryptborne/clumpvm/internal/splay"
)

func idOf(c *clump.Clump) string {
	if c == nil {
		return ""
	}
	return c.ID.String()
}

// DumpTree builds a structured, YAML-serializable snapshot of every
// clump this arena owns: bounds, tree links, and, if withObjects is set,
// every object header in each clump's object area.
func (a *Arena) DumpTree(withObjects bool) dump.Snapshot {
	a.assertOwner()

	snap := dump.Snapshot{
		ArenaID:   a.id.String(),
		Allocated: a.allocated,
		RootID:    idOf(a.Root()),
	}

	if a.tree.Root == nil {
		return snap
	}

	splay.Apply(a.tree.Root, func(n splay.Node) splay.AppResult {
		c := n.(*clump.Clump)
		links := c.Links()

		var left, right, parent *clump.Clump
		if links.Left != nil {
			left = links.Left.(*clump.Clump)
		}
		if links.Right != nil {
			right = links.Right.(*clump.Clump)
		}
		if links.Parent != nil {
			parent = links.Parent.(*clump.Clump)
		}

		cs := dump.ClumpSummary{
			ID:     c.ID.String(),
			Base:   c.Base,
			Bot:    c.Bot,
			Top:    c.Top,
			Limit:  c.Limit,
			End:    c.End,
			Alone:  c.Alone,
			Left:   idOf(left),
			Right:  idOf(right),
			Parent: idOf(parent),
		}

		if withObjects {
			c.Walk(func(pos uintptr, h *header.Header) {
				typeName := "<nil>"
				if h.Type != nil {
					typeName = h.Type.SName
				}
				cs.Objects = append(cs.Objects, dump.ObjectSummary{
					Offset: pos - c.Base,
					Size:   h.Size(),
					Type:   typeName,
					Free:   h.IsFree(),
				})
			})
		}

		snap.Clumps = append(snap.Clumps, cs)
		return splay.AppContinue
	})

	return snap
}
