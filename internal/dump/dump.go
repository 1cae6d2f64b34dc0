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

// Package dump implements the allocator's debug dump: a structured,
// YAML-serializable snapshot of a clump tree, used by cmd/clumpdump
// instead of hand-rolled text formatting.
package dump

import "gopkg.in/yaml.v3"

// ObjectSummary describes one live or free object within a clump, for the
// optional per-object dump pass.
type ObjectSummary struct {
	Offset uintptr `yaml:"offset"`
	Size   int     `yaml:"size"`
	Type   string  `yaml:"type"`
	Free   bool    `yaml:"free"`
}

// ClumpSummary describes one clump's bounds, tree links, and (optionally)
// its objects.
type ClumpSummary struct {
	ID    string `yaml:"id"`
	Base  uintptr `yaml:"base"`
	Bot   uintptr `yaml:"bot"`
	Top   uintptr `yaml:"top"`
	Limit uintptr `yaml:"limit"`
	End   uintptr `yaml:"end"`

	Alone bool `yaml:"alone"`

	Left   string `yaml:"left,omitempty"`
	Right  string `yaml:"right,omitempty"`
	Parent string `yaml:"parent,omitempty"`

	Objects []ObjectSummary `yaml:"objects,omitempty"`
}

// Snapshot is the top-level debug dump of an arena.
type Snapshot struct {
	ArenaID   string `yaml:"arena_id"`
	Allocated int64  `yaml:"allocated"`
	RootID    string `yaml:"root_id,omitempty"`

	Clumps []ClumpSummary `yaml:"clumps"`
}

// YAML renders the snapshot as YAML text.
func (s *Snapshot) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}
