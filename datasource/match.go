package datasource

import (
	"fmt"

	"github.com/ecmwf/reqbroker/datecheck"
)

// MatchFields evaluates a datasource's configured per-key match rules
// against the coerced request, grounded on the repeated
// `for k, v in self.match_rules.items()` loop duplicated across
// mars.py/polytope.py/webmars.py/ionbeam.py: every configured key must be
// present in the request, the "date" key is routed through datecheck's
// comparator-prefixed predicates, and every other key requires the
// request's value to equal (or, for a list request value, contain) the
// configured value.
//
// cfg is nil-safe: an empty or nil cfg matches unconditionally, matching
// a datasource configured with no `match:` block.
func MatchFields(cfg map[string]any, coercedRequest map[string]any) error {
	for key, rule := range cfg {
		val, ok := coercedRequest[key]
		if !ok {
			return fmt.Errorf("%w: request does not contain expected key %q", ErrNoMatch, key)
		}
		if key == "date" {
			if err := matchDateRule(val, rule); err != nil {
				return fmt.Errorf("%w: %v", ErrNoMatch, err)
			}
			continue
		}
		if !matchValue(val, rule) {
			return fmt.Errorf("%w: key %q: got %v, expected %v", ErrNoMatch, key, val, rule)
		}
	}
	return nil
}

// matchDateRule applies the date-specific predicate evaluation
// (datecheck.CheckRule/CheckRules), accepting either a single predicate
// string ("> 30d") or a list of predicate strings (disjunctive), per
// spec.md's "a date-rule list is disjunctive".
func matchDateRule(val any, rule any) error {
	date := toStringSlice(val)
	switch r := rule.(type) {
	case string:
		return datecheck.CheckRule(date, r)
	default:
		rules := toStringSlice(rule)
		if rules == nil {
			return fmt.Errorf("date match rule has unexpected type %T", rule)
		}
		return datecheck.CheckRules(date, rules)
	}
}

// matchValue reports whether val equals, or (if val is a list) contains,
// one of the values configured by rule, mirroring mars.py's
// `v = [v] if isinstance(v, str) else v; if r[k] not in v: raise`.
func matchValue(val any, rule any) bool {
	allowed := toAnySlice(rule)
	for _, v := range toAnySlice(val) {
		for _, a := range allowed {
			if fmt.Sprint(v) == fmt.Sprint(a) {
				return true
			}
		}
	}
	return false
}

func toAnySlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{t}
	}
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = fmt.Sprint(s)
		}
		return out
	default:
		if v == nil {
			return nil
		}
		return []string{fmt.Sprint(v)}
	}
}
