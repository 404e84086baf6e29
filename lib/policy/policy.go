// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"math/rand/v2"
	"path"
	"sort"

	"github.com/bureau-foundation/branchfs/lib/branch"
)

// ErrNotFound reports that no branch contains (or could contain) the
// requested path.
var ErrNotFound = errors.New("path not found on any branch")

// ErrNoSpace reports that no write-eligible branch satisfies the
// free-space requirement.
var ErrNoSpace = errors.New("no branch satisfies the free space requirement")

// SearchFunc resolves the branches to read an existing entry from.
// Candidates are ordered most-preferred first; callers use only the
// first. minFree is advisory for search: policies may use it to order
// candidates but never to exclude a branch that holds the entry.
type SearchFunc func(branches []branch.Branch, rel string, minFree uint64) ([]branch.Branch, error)

// CreateFunc resolves the branches eligible to receive a new entry,
// most-preferred first. Only read-write branches with free space at or
// above their effective threshold qualify.
type CreateFunc func(branches []branch.Branch, rel string, minFree uint64) ([]branch.Branch, error)

// ActionFunc resolves every branch a mutation of an existing entry
// must be propagated to, in branch-configured order.
type ActionFunc func(branches []branch.Branch, rel string) ([]branch.Branch, error)

// Policy is one named branch-selection algorithm. A nil function slot
// means the policy does not implement that category.
type Policy struct {
	Name   string
	Search SearchFunc
	Create CreateFunc
	Action ActionFunc
}

// registry is the full policy table, ordered by name. The set is
// fixed at build time.
var registry = []Policy{
	{Name: "all", Action: actionAll},
	{Name: "epff", Search: searchFirst, Create: createExistingPath(byOrder)},
	{Name: "eplfs", Search: searchLeastFree, Create: createExistingPath(byFreeAscending)},
	{Name: "epmfs", Search: searchMostFree, Create: createExistingPath(byFreeDescending)},
	{Name: "ff", Search: searchFirst, Create: create(byOrder)},
	{Name: "lfs", Search: searchLeastFree, Create: create(byFreeAscending)},
	{Name: "mfs", Search: searchMostFree, Create: create(byFreeDescending)},
	{Name: "newest", Search: searchNewest},
	{Name: "rand", Search: searchRand, Create: create(byRand)},
}

// Lookup returns the named policy.
func Lookup(name string) (*Policy, bool) {
	for i := range registry {
		if registry[i].Name == name {
			return &registry[i], true
		}
	}
	return nil, false
}

// Names returns every registered policy name in registry order.
func Names() []string {
	names := make([]string, len(registry))
	for i, p := range registry {
		names[i] = p.Name
	}
	return names
}

// ---- Search ----

func searchFirst(branches []branch.Branch, rel string, _ uint64) ([]branch.Branch, error) {
	existing := branch.Existing(branches, rel)
	if len(existing) == 0 {
		return nil, ErrNotFound
	}
	return existing, nil
}

func searchMostFree(branches []branch.Branch, rel string, _ uint64) ([]branch.Branch, error) {
	existing := branch.Existing(branches, rel)
	if len(existing) == 0 {
		return nil, ErrNotFound
	}
	sortByFree(existing, false)
	return existing, nil
}

func searchLeastFree(branches []branch.Branch, rel string, _ uint64) ([]branch.Branch, error) {
	existing := branch.Existing(branches, rel)
	if len(existing) == 0 {
		return nil, ErrNotFound
	}
	sortByFree(existing, true)
	return existing, nil
}

func searchNewest(branches []branch.Branch, rel string, _ uint64) ([]branch.Branch, error) {
	type candidate struct {
		b     branch.Branch
		mtime int64
		nsec  int64
	}
	var candidates []candidate
	for _, b := range branches {
		st, err := b.Stat(rel)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{b, st.Mtim.Sec, int64(st.Mtim.Nsec)})
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].mtime != candidates[j].mtime {
			return candidates[i].mtime > candidates[j].mtime
		}
		return candidates[i].nsec > candidates[j].nsec
	})
	out := make([]branch.Branch, len(candidates))
	for i, c := range candidates {
		out[i] = c.b
	}
	return out, nil
}

func searchRand(branches []branch.Branch, rel string, _ uint64) ([]branch.Branch, error) {
	existing := branch.Existing(branches, rel)
	if len(existing) == 0 {
		return nil, ErrNotFound
	}
	rand.Shuffle(len(existing), func(i, j int) {
		existing[i], existing[j] = existing[j], existing[i]
	})
	return existing, nil
}

// ---- Create ----

// order functions arrange an already-eligible candidate list.
func byOrder(candidates []branch.Branch) {}

func byFreeDescending(candidates []branch.Branch) { sortByFree(candidates, false) }

func byFreeAscending(candidates []branch.Branch) { sortByFree(candidates, true) }

func byRand(candidates []branch.Branch) {
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
}

// create builds a CreateFunc that filters to write-eligible branches
// with sufficient free space, then orders them.
func create(order func([]branch.Branch)) CreateFunc {
	return func(branches []branch.Branch, rel string, minFree uint64) ([]branch.Branch, error) {
		eligible := eligibleForCreate(branches, minFree)
		if len(eligible) == 0 {
			return nil, ErrNoSpace
		}
		order(eligible)
		return eligible, nil
	}
}

// createExistingPath is the "ep" variant: the candidate must already
// hold the new entry's parent directory. When no branch holds the
// parent at all the failure is NotFound, not OutOfSpace.
func createExistingPath(order func([]branch.Branch)) CreateFunc {
	return func(branches []branch.Branch, rel string, minFree uint64) ([]branch.Branch, error) {
		parent := path.Dir(rel)
		holders := branch.Existing(branches, parent)
		if len(holders) == 0 {
			return nil, ErrNotFound
		}
		eligible := eligibleForCreate(holders, minFree)
		if len(eligible) == 0 {
			return nil, ErrNoSpace
		}
		order(eligible)
		return eligible, nil
	}
}

func eligibleForCreate(branches []branch.Branch, minFree uint64) []branch.Branch {
	var out []branch.Branch
	for _, b := range branches {
		if b.Mode != branch.ReadWrite {
			continue
		}
		free, err := b.FreeSpace()
		if err != nil || free < b.EffectiveMinFree(minFree) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// ---- Action ----

// actionAll returns every branch containing rel, in branch order,
// regardless of mode or free space: a mutation of an existing entry
// must reach every copy or the merged view turns inconsistent.
func actionAll(branches []branch.Branch, rel string) ([]branch.Branch, error) {
	existing := branch.Existing(branches, rel)
	if len(existing) == 0 {
		return nil, ErrNotFound
	}
	return existing, nil
}

func sortByFree(candidates []branch.Branch, ascending bool) {
	free := make(map[string]uint64, len(candidates))
	for _, b := range candidates {
		f, err := b.FreeSpace()
		if err != nil {
			f = 0
		}
		free[b.Path] = f
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if ascending {
			return free[candidates[i].Path] < free[candidates[j].Path]
		}
		return free[candidates[i].Path] > free[candidates[j].Path]
	})
}
