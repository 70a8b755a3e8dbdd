// Package datecheck implements the date predicate matching used by
// datasource configuration to restrict which dates a datasource accepts,
// a literal port of the original implementation's common/date_check.py.
package datecheck

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateError reports that a date failed a predicate, mirroring
// date_check.py's DateError.
type DateError struct {
	Message string
}

func (e *DateError) Error() string { return e.Message }

var relativeDeltaPattern = regexp.MustCompile(`(\d+)([dhm])`)

// parseRelativeDelta parses strings like "2d3h10m" into a duration,
// matching parse_relativedelta's accumulation of days/hours/minutes.
func parseRelativeDelta(s string) time.Duration {
	var d time.Duration
	for _, m := range relativeDeltaPattern.FindAllStringSubmatch(s, -1) {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "d":
			d += time.Duration(n) * 24 * time.Hour
		case "h":
			d += time.Duration(n) * time.Hour
		case "m":
			d += time.Duration(n) * time.Minute
		}
	}
	return d
}

// checkSingleDate matches check_single_date: a date starting with "0" or
// "-" is a relative day-offset from today, otherwise it's parsed as an
// absolute YYYYMMDD date. Both forms are compared against offset, which
// represents "now minus the configured max age".
//
// after selects which side of offset the date must fall on: after=true
// (comparator "> offset") requires the date to be older than offset
// ("at least offset old"), rejecting anything too recent; after=false
// (comparator "< offset") requires the date to be newer than offset,
// rejecting anything too old. This mirrors date_check.py's
// check_single_date, where `after and dt >= offset` raises "too recent"
// and `not after and dt < offset` raises "too old".
func checkSingleDate(date string, offset time.Time, after bool) error {
	var d time.Time
	if strings.HasPrefix(date, "0") || strings.HasPrefix(date, "-") {
		n, err := strconv.Atoi(date)
		if err != nil {
			return &DateError{Message: fmt.Sprintf("invalid relative date %q", date)}
		}
		d = time.Now().UTC().AddDate(0, 0, n)
	} else {
		parsed, err := time.Parse("20060102", date)
		if err != nil {
			return &DateError{Message: fmt.Sprintf("invalid date %q", date)}
		}
		d = parsed
	}
	if after {
		if !d.Before(offset) {
			return &DateError{Message: fmt.Sprintf("date %s is too recent (must be before %s)", date, offset.Format("20060102"))}
		}
		return nil
	}
	if d.Before(offset) {
		return &DateError{Message: fmt.Sprintf("date %s is too old (must be after %s)", date, offset.Format("20060102"))}
	}
	return nil
}

// Check matches date_check: date is the client-supplied value (possibly
// "/"-joined, e.g. a list or a range), offsetStr configures how far back
// the predicate's cutoff reaches (e.g. "30d", parsed with
// parseRelativeDelta; empty defaults to "-1", i.e. no meaningful offset),
// and after selects whether the predicate requires dates older than the
// cutoff (true, comparator "> offset") or newer than it (false,
// comparator "< offset").
//
// A "to" range (length-3 or length-5 slash form, with "by" as the
// optional fourth token) requires BOTH endpoints to satisfy the
// predicate. A plain slash-separated list of dates requires ALL elements
// to satisfy the predicate (conjunctive) — disjunction between whole
// predicates is handled one level up, by evaluating multiple predicates
// and OR-ing their results (see CheckRules).
func Check(date []string, offsetStr string, after bool) error {
	joined := strings.Join(date, "/")
	if offsetStr == "" {
		offsetStr = "-1"
	}
	offset := time.Now().UTC().Add(-parseRelativeDelta(offsetStr))

	parts := strings.Split(joined, "/")
	if len(parts) == 1 {
		return checkSingleDate(parts[0], offset, after)
	}
	if (len(parts) == 3 && parts[1] == "to") || (len(parts) == 5 && parts[1] == "to" && parts[3] == "by") {
		if err := checkSingleDate(parts[0], offset, after); err != nil {
			return err
		}
		return checkSingleDate(parts[2], offset, after)
	}
	for _, p := range parts {
		if err := checkSingleDate(p, offset, after); err != nil {
			return err
		}
	}
	return nil
}

// CheckRule parses a single predicate string of the form "> offset" or
// "< offset" (the match-rule syntax a collection config carries under a
// datasource's `match.date` key) and evaluates it against date, matching
// date_check_single_rule's `comp, offset = allowed_values.split(" ", 1)`
// and its comparator-to-after mapping (">" -> after=true, "<" ->
// after=false).
func CheckRule(date []string, rule string) error {
	comp, offset, ok := strings.Cut(strings.TrimSpace(rule), " ")
	if !ok {
		return &DateError{Message: fmt.Sprintf("invalid date comparison %q", rule)}
	}
	var after bool
	switch comp {
	case ">":
		after = true
	case "<":
		after = false
	default:
		return &DateError{Message: fmt.Sprintf("invalid date comparison %q", rule)}
	}
	return Check(date, strings.TrimSpace(offset), after)
}

// CheckRules evaluates rules disjunctively, matching date_check: date
// passes if any rule accepts it, mirroring the original's "a date-rule
// list is disjunctive". Returns an aggregated DateError listing every
// rule's rejection reason when none accept it.
func CheckRules(date []string, rules []string) error {
	if len(rules) == 0 {
		return nil
	}
	var reasons []string
	for _, rule := range rules {
		if err := CheckRule(date, rule); err != nil {
			reasons = append(reasons, err.Error())
			continue
		}
		return nil
	}
	return &DateError{Message: fmt.Sprintf("date %s matches none of %v: %s", strings.Join(date, "/"), rules, strings.Join(reasons, "; "))}
}
