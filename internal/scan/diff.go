package scan

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Change describes how the entry point set moved between two scans.
type Change struct {
	Added   []string
	Removed []string

	prev, next []string
}

// Diff compares two scan results. Order differences alone are not a change.
func Diff(prev, next []string) Change {
	before := toSet(prev)
	after := toSet(next)

	c := Change{
		prev: sortedCopy(prev),
		next: sortedCopy(next),
	}

	for _, p := range c.next {
		if _, ok := before[p]; !ok {
			c.Added = append(c.Added, p)
		}
	}

	for _, p := range c.prev {
		if _, ok := after[p]; !ok {
			c.Removed = append(c.Removed, p)
		}
	}

	return c
}

// Empty reports whether the two scans found the same files.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Summary returns a short human-readable description, e.g. "+2 -1".
func (c Change) Summary() string {
	if c.Empty() {
		return "no changes"
	}

	return fmt.Sprintf("+%d -%d", len(c.Added), len(c.Removed))
}

// Unified renders the change as a unified diff of the sorted entry lists.
func (c Change) Unified() (string, error) {
	if c.Empty() {
		return "", nil
	}

	diff := difflib.UnifiedDiff{
		A:        lines(c.prev),
		B:        lines(c.next),
		FromFile: "entries (before)",
		ToFile:   "entries (after)",
		Context:  1,
	}

	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("computing entry diff: %w", err)
	}

	return out, nil
}

func lines(paths []string) []string {
	if len(paths) == 0 {
		return []string{""}
	}

	return strings.SplitAfter(strings.Join(paths, "\n")+"\n", "\n")
}

func toSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}

	return set
}

func sortedCopy(paths []string) []string {
	out := slices.Clone(paths)
	slices.Sort(out)

	return out
}
