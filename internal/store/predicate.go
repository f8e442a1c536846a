package store

import (
	"github.com/huandu/go-sqlbuilder"
)

// Predicate renders a WHERE expression against the builder's Cond, which
// collects the bound arguments. An empty expression matches every row.
type Predicate func(c *sqlbuilder.Cond) string

const matchNothing = "0 = 1"

// All matches every row.
func All() Predicate {
	return func(*sqlbuilder.Cond) string { return "" }
}

// None matches no row.
func None() Predicate {
	return func(*sqlbuilder.Cond) string { return matchNothing }
}

// Eq matches rows whose column equals v.
func Eq(column string, v any) Predicate {
	return func(c *sqlbuilder.Cond) string { return c.Equal(column, v) }
}

// In matches rows whose column is one of values. No values matches nothing.
func In(column string, values ...any) Predicate {
	return func(c *sqlbuilder.Cond) string {
		if len(values) == 0 {
			return matchNothing
		}
		return c.In(column, values...)
	}
}

// InInts is In for integer keys.
func InInts(column string, ids []int64) Predicate {
	return In(column, anySlice(ids)...)
}

// InStrings is In for string keys.
func InStrings(column string, keys []string) Predicate {
	return In(column, anySlice(keys)...)
}

// Between matches lo <= column <= hi.
func Between(column string, lo, hi any) Predicate {
	return func(c *sqlbuilder.Cond) string { return c.Between(column, lo, hi) }
}

// AtLeast matches column >= v.
func AtLeast(column string, v any) Predicate {
	return func(c *sqlbuilder.Cond) string { return c.GreaterEqualThan(column, v) }
}

// AtMost matches column <= v.
func AtMost(column string, v any) Predicate {
	return func(c *sqlbuilder.Cond) string { return c.LessEqualThan(column, v) }
}

// AtOrBefore matches rows whose (dateCol, idCol) pair sorts at or before
// (date, id): earlier days entirely, and the boundary day up to id.
func AtOrBefore(dateCol, idCol, date string, id int64) Predicate {
	return func(c *sqlbuilder.Cond) string {
		return c.Or(
			c.LessThan(dateCol, date),
			c.And(c.Equal(dateCol, date), c.LessEqualThan(idCol, id)),
		)
	}
}

// AtOrAfter matches rows whose (dateCol, idCol) pair sorts at or after
// (date, id): later days entirely, and the boundary day from id.
func AtOrAfter(dateCol, idCol, date string, id int64) Predicate {
	return func(c *sqlbuilder.Cond) string {
		return c.Or(
			c.GreaterThan(dateCol, date),
			c.And(c.Equal(dateCol, date), c.GreaterEqualThan(idCol, id)),
		)
	}
}

// And matches rows satisfying every predicate.
func And(preds ...Predicate) Predicate {
	return func(c *sqlbuilder.Cond) string {
		exprs := make([]string, 0, len(preds))
		for _, p := range preds {
			switch e := p(c); e {
			case "":
			case matchNothing:
				return matchNothing
			default:
				exprs = append(exprs, e)
			}
		}
		switch len(exprs) {
		case 0:
			return ""
		case 1:
			return exprs[0]
		}
		return c.And(exprs...)
	}
}

// Or matches rows satisfying any predicate.
func Or(preds ...Predicate) Predicate {
	return func(c *sqlbuilder.Cond) string {
		exprs := make([]string, 0, len(preds))
		for _, p := range preds {
			switch e := p(c); e {
			case "":
				return ""
			case matchNothing:
			default:
				exprs = append(exprs, e)
			}
		}
		switch len(exprs) {
		case 0:
			return matchNothing
		case 1:
			return exprs[0]
		}
		return c.Or(exprs...)
	}
}

// Not negates p.
func Not(p Predicate) Predicate {
	return func(c *sqlbuilder.Cond) string {
		switch e := p(c); e {
		case "":
			return matchNothing
		case matchNothing:
			return ""
		default:
			return "NOT (" + e + ")"
		}
	}
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
