// Package match associates containers with nearby labeled signs.
package match

import (
	"sort"

	"github.com/gmcnew/migrate-chests/internal/migrate/scan"
	"github.com/gmcnew/migrate-chests/internal/world/store"
)

// SearchLimit is the largest Manhattan distance at which a sign can claim a
// container.
const SearchLimit = 17

type Mode int

const (
	// ClosestOnly assigns each container to the single nearest sign. Used
	// when staging from a source world.
	ClosestOnly Mode = iota
	// NearSet assigns each container to every sign within range. Used when
	// matching a destination world.
	NearSet
)

func (m Mode) String() string {
	if m == NearSet {
		return "near-set"
	}
	return "closest-only"
}

type Anchor struct {
	Pos   store.Vec3i
	Label string
}

type Group struct {
	Containers []scan.Ref
	Signs      []scan.Ref
}

// Groups maps labels to their containers and signs.
type Groups map[string]*Group

func (g Groups) group(label string) *Group {
	grp, ok := g[label]
	if !ok {
		grp = &Group{}
		g[label] = grp
	}
	return grp
}

// Labels returns the group labels in sorted order.
func (g Groups) Labels() []string {
	out := make([]string, 0, len(g))
	for label := range g {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

type Stats struct {
	Containers int
	Signs      int
	Matched    int
	Orphaned   int
}

type Matcher struct {
	Mode  Mode
	Limit int
}

func New(mode Mode) Matcher { return Matcher{Mode: mode, Limit: SearchLimit} }

// Add registers every labeled sign of res as an anchor and distributes the
// containers of res over groups. Anchors are considered in scan order, which
// decides ties in ClosestOnly mode. Groups may already hold entries from an
// earlier world; new ones are appended.
func (m Matcher) Add(groups Groups, res scan.Result) Stats {
	anchors := make([]Anchor, 0, len(res.Signs))
	for _, s := range res.Signs {
		anchors = append(anchors, Anchor{Pos: s.Pos(), Label: s.Label})
		grp := groups.group(s.Label)
		grp.Signs = append(grp.Signs, s)
	}

	st := Stats{Containers: len(res.Containers), Signs: len(res.Signs)}
	for _, c := range res.Containers {
		labels := m.Labels(c.Pos(), anchors)
		if len(labels) == 0 {
			st.Orphaned++
			continue
		}
		for _, label := range labels {
			grp := groups.group(label)
			grp.Containers = append(grp.Containers, c)
		}
	}
	st.Matched = st.Containers - st.Orphaned
	return st
}

// Labels returns the labels that claim a container at pos.
func (m Matcher) Labels(pos store.Vec3i, anchors []Anchor) []string {
	limit := m.Limit
	if limit <= 0 {
		limit = SearchLimit
	}
	if m.Mode == NearSet {
		return nearSet(pos, anchors, limit)
	}
	if label, ok := Closest(pos, anchors, limit); ok {
		return []string{label}
	}
	return nil
}

type best struct {
	dist  int
	label string
	ok    bool
}

// Closest folds over anchors keeping the strictly nearest one within limit.
// The first anchor found at the minimum distance wins.
func Closest(pos store.Vec3i, anchors []Anchor, limit int) (string, bool) {
	acc := best{dist: limit + 1}
	for _, a := range anchors {
		if d := store.Manhattan(pos, a.Pos); d < acc.dist {
			acc = best{dist: d, label: a.Label, ok: true}
		}
	}
	return acc.label, acc.ok
}

// nearSet collects every distinct label with an anchor within limit. The
// threshold never shrinks, so a far anchor counts as much as a near one.
func nearSet(pos store.Vec3i, anchors []Anchor, limit int) []string {
	var out []string
	seen := map[string]bool{}
	for _, a := range anchors {
		if store.Manhattan(pos, a.Pos) < limit+1 && !seen[a.Label] {
			seen[a.Label] = true
			out = append(out, a.Label)
		}
	}
	return out
}
