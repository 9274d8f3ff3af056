package merge

import (
	"slices"

	"github.com/google/uuid"

	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/model"
)

// Compatible reports whether stored row e can be the same sale as
// candidate c. Both already share a coarse key; this checks that their
// floor data does not contradict.
func Compatible(e, c *model.Transaction) bool {
	if c.ExactLevel != nil {
		l := *c.ExactLevel
		if e.ExactLevel != nil && *e.ExactLevel != l {
			return false
		}
		if c.ExactUnit != nil && e.ExactUnit != nil && *e.ExactUnit != *c.ExactUnit {
			return false
		}
		if lo, hi, ok := storedRange(e); ok && (l < lo || l > hi) {
			return false
		}
		return true
	}
	clo, chi, ok := storedRange(c)
	if !ok {
		return true
	}
	if e.ExactLevel != nil && (*e.ExactLevel < clo || *e.ExactLevel > chi) {
		return false
	}
	if lo, hi, ok := storedRange(e); ok && (hi < clo || lo > chi) {
		return false
	}
	return true
}

func storedRange(t *model.Transaction) (int, int, bool) {
	if t.LevelLow == nil || t.LevelHigh == nil {
		return 0, 0, false
	}
	return *t.LevelLow, *t.LevelHigh, true
}

// slot is a row visible to later subgroups of the same coarse key: either
// a stored row or an insert planned earlier in this pass.
type slot struct {
	row    model.Transaction
	insert int
}

// Plan resolves a batch of candidates against the stored rows for their
// coarse keys. Candidates are grouped by coarse key; within a key the
// exact-unit subgroups resolve first, then every remaining candidate as one
// subgroup. Exact subgroups only see stored rows whose floor data agrees
// with them, since the precise index allows one row per exact location.
// The remaining subgroup sees every row under the key, so a range-only
// report never adds a second row where one already shares the key. Each
// subgroup sees the effect of the ones before it, so every key is decided
// in a single pass and no two writes race within a run. New rows get their
// id here.
func Plan(candidates, existing []model.Transaction) []Decision {
	stored := make(map[string][]*slot)
	for i := range existing {
		k := identity.Coarse(&existing[i]).String()
		stored[k] = append(stored[k], &slot{row: existing[i], insert: -1})
	}

	var order []string
	groups := make(map[string][]model.Transaction)
	for _, c := range candidates {
		k := identity.Coarse(&c).String()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}

	var out []Decision
	for _, k := range order {
		slots := stored[k]
		for _, sub := range subgroups(groups[k]) {
			var matched []*slot
			for _, s := range slots {
				if !sub.exact || Compatible(&s.row, &sub.rows[0]) {
					matched = append(matched, s)
				}
			}
			rows := make([]model.Transaction, len(matched))
			for i, s := range matched {
				rows[i] = s.row
			}

			d := Resolve(rows, sub.rows)
			d.Key = sub.key
			switch d.Action {
			case Insert:
				d.Row.ID = uuid.NewString()
				slots = append(slots, &slot{row: d.Row, insert: len(out)})
				out = append(out, d)
			case Update:
				var storedIDs []string
				for _, s := range matched {
					if !slices.Contains(d.IDs, s.row.ID) {
						continue
					}
					s.row, _ = Apply(s.row, d)
					if s.insert >= 0 {
						out[s.insert].Row = s.row
						continue
					}
					storedIDs = append(storedIDs, s.row.ID)
				}
				if len(storedIDs) > 0 {
					d.IDs = storedIDs
					out = append(out, d)
				}
			case Skip:
				out = append(out, d)
			}
		}
		stored[k] = slots
	}
	return out
}

type subgroup struct {
	key   string
	exact bool
	rows  []model.Transaction
}

func subgroups(cands []model.Transaction) []subgroup {
	var precise, ranged []string
	by := make(map[string][]model.Transaction)
	for _, c := range cands {
		var k string
		if pk, ok := identity.Precise(&c); ok {
			k = pk.String()
			if _, seen := by[k]; !seen {
				precise = append(precise, k)
			}
		} else {
			k = identity.Coarse(&c).String()
			if _, seen := by[k]; !seen {
				ranged = append(ranged, k)
			}
		}
		by[k] = append(by[k], c)
	}
	out := make([]subgroup, 0, len(precise)+len(ranged))
	for _, k := range precise {
		out = append(out, subgroup{key: k, exact: true, rows: by[k]})
	}
	for _, k := range ranged {
		out = append(out, subgroup{key: k, rows: by[k]})
	}
	return out
}
