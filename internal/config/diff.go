// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"slices"

	"github.com/google/go-cmp/cmp"
)

// NodeDiff is the change between two node lists, keyed by node identity.
// Changed holds the new entry of nodes whose settings differ.
type NodeDiff struct {
	Added   []NodeConfig
	Removed []NodeConfig
	Changed []NodeConfig
}

// Empty reports whether nothing changed.
func (d NodeDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffNodes compares two node lists. Order does not matter.
func DiffNodes(old, next []NodeConfig) NodeDiff {
	var d NodeDiff
	prev := make(map[string]NodeConfig, len(old))
	for _, n := range old {
		prev[n.Key()] = n
	}
	cur := make(map[string]struct{}, len(next))
	for _, n := range next {
		key := n.Key()
		cur[key] = struct{}{}
		o, ok := prev[key]
		switch {
		case !ok:
			d.Added = append(d.Added, n)
		case !cmp.Equal(o, n):
			d.Changed = append(d.Changed, n)
		}
	}
	for _, n := range old {
		if _, ok := cur[n.Key()]; !ok {
			d.Removed = append(d.Removed, n)
		}
	}
	return d
}

func keys(ns []NodeConfig) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Key())
	}
	slices.Sort(out)
	return out
}
