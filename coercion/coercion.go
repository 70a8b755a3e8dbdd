// Package coercion normalizes raw client request values into the
// canonical string forms the rest of reqbroker expects, following
// the original implementation's common/coercion.py field-by-field
// rules (dates, steps, numbers, params, times, experiment versions).
package coercion

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CoercionError reports a value that failed normalization for a
// specific key, accumulating one message per offending key the way
// coerce() in the original aggregates per-key CoercionErrors into a
// single raised error.
type CoercionError struct {
	Errors map[string]string
}

func (e *CoercionError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", k, e.Errors[k])
	}
	return b.String()
}

// Config mirrors coercion.py's default_config: which keys may carry a
// "A/to/B[/by/N]" range, which may carry an "A/B/C" list, and whether
// coerce_number accepts zero.
type Config struct {
	AllowRanges     map[string]bool
	AllowLists      map[string]bool
	NumberAllowZero bool
}

// DefaultConfig matches coercion.py's module-level default_config.
// NumberAllowZero is false: spec.md's Open Question on coerce_number's
// zero handling resolves to the "configurable variant", defaulted
// closed (see DESIGN.md).
func DefaultConfig() *Config {
	return &Config{
		AllowRanges: toSet("number", "step", "date", "time"),
		AllowLists:  toSet("class", "stream", "type", "expver", "param", "number", "date", "step", "time"),
	}
}

func toSet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

type coercerFunc func(cfg *Config, value string) (string, error)

var coercers = map[string]coercerFunc{
	"date":       func(cfg *Config, v string) (string, error) { return coerceDate(v) },
	"step":       func(cfg *Config, v string) (string, error) { return coerceStep(v) },
	"number":     func(cfg *Config, v string) (string, error) { return coerceNumber(cfg, v) },
	"param":      func(cfg *Config, v string) (string, error) { return coerceParam(v) },
	"time":       func(cfg *Config, v string) (string, error) { return coerceTime(v) },
	"expver":     func(cfg *Config, v string) (string, error) { return coerceExpver(v) },
	"model":      func(cfg *Config, v string) (string, error) { return strings.ToLower(v), nil },
	"experiment": func(cfg *Config, v string) (string, error) { return strings.ToLower(v), nil },
	"activity":   func(cfg *Config, v string) (string, error) { return strings.ToLower(v), nil },
}

// Coerce normalizes every key of a request map in place (on a copy),
// following coerce()'s per-key accumulation of errors: a failure on one
// key doesn't stop normalization of the rest, but the aggregate error is
// returned if any key failed.
func Coerce(cfg *Config, req map[string]any) (map[string]any, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := make(map[string]any, len(req))
	errs := map[string]string{}
	for key, value := range req {
		coerced, err := CoerceValue(cfg, key, value)
		if err != nil {
			errs[key] = err.Error()
			continue
		}
		out[key] = coerced
		if list, ok := coerced.([]string); ok {
			if dup := findDuplicate(list); dup != "" {
				errs[key] = fmt.Sprintf("duplicate value %q in %s", dup, key)
			}
		}
	}
	if len(errs) > 0 {
		return nil, &CoercionError{Errors: errs}
	}
	return out, nil
}

func findDuplicate(list []string) string {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		if seen[v] {
			return v
		}
		seen[v] = true
	}
	return ""
}

// CoerceValue normalizes a single key/value pair, dispatching on
// whether value is a list, a "/to/" range, a "/"-separated list string,
// or a scalar — exactly coerce_value()'s branch order.
func CoerceValue(cfg *Config, key string, value any) (any, error) {
	lowerKey := strings.ToLower(key)
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, err := coerceScalarOrString(cfg, lowerKey, fmt.Sprint(item))
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		if cfg.AllowRanges[lowerKey] && strings.Contains(v, "/to/") {
			return coerceRange(cfg, lowerKey, v)
		}
		if cfg.AllowLists[lowerKey] && strings.Contains(v, "/") {
			parts := strings.Split(v, "/")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				s, err := coerceScalarOrString(cfg, lowerKey, p)
				if err != nil {
					return nil, err
				}
				out = append(out, s)
			}
			return out, nil
		}
		return coerceScalarOrString(cfg, lowerKey, v)
	default:
		return coerceScalarOrString(cfg, lowerKey, fmt.Sprint(v))
	}
}

func coerceScalarOrString(cfg *Config, key, value string) (string, error) {
	fn, ok := coercers[key]
	if !ok {
		return value, nil
	}
	return fn(cfg, value)
}

// coerceRange splits an "A/to/B" or "A/to/B/by/N" string, coercing the
// endpoints and leaving the "to"/"by" structure intact, matching
// coerce_value's range branch.
func coerceRange(cfg *Config, key, value string) (string, error) {
	parts := strings.Split(value, "/")
	// parts: [A, "to", B] or [A, "to", B, "by", N]
	if len(parts) != 3 && len(parts) != 5 {
		return "", fmt.Errorf("malformed range %q", value)
	}
	if parts[1] != "to" {
		return "", fmt.Errorf("malformed range %q", value)
	}
	start, err := coerceScalarOrString(cfg, key, parts[0])
	if err != nil {
		return "", err
	}
	end, err := coerceScalarOrString(cfg, key, parts[2])
	if err != nil {
		return "", err
	}
	if len(parts) == 3 {
		return start + "/to/" + end, nil
	}
	if parts[3] != "by" {
		return "", fmt.Errorf("malformed range %q", value)
	}
	return start + "/to/" + end + "/by/" + parts[4], nil
}

// coerceDate matches coerce_date: positive integers must parse as
// YYYYMMDD, zero/negative integers are relative-day offsets from today,
// and strings are tried as YYYYMMDD then YYYY-MM-DD.
func coerceDate(value string) (string, error) {
	if n, err := strconv.Atoi(value); err == nil {
		if n > 0 {
			if _, err := time.Parse("20060102", value); err != nil {
				return "", fmt.Errorf("invalid date %q", value)
			}
			return value, nil
		}
		d := time.Now().UTC().AddDate(0, 0, n)
		return d.Format("20060102"), nil
	}
	if _, err := time.Parse("20060102", value); err == nil {
		return value, nil
	}
	if d, err := time.Parse("2006-01-02", value); err == nil {
		return d.Format("20060102"), nil
	}
	return "", fmt.Errorf("invalid date %q", value)
}

var stepPattern = regexp.MustCompile(`^\d+(\d*d)?(\d*h)?(\d*m)?(\d*s)?$`)

// coerceStep matches coerce_step: a bare non-negative integer, a
// duration-suffixed step ("12h", "3d6h"), or an "A-B" range of such
// steps.
func coerceStep(value string) (string, error) {
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 {
			return "", fmt.Errorf("invalid step %q", value)
		}
		return value, nil
	}
	if isValidStep(value) {
		return value, nil
	}
	if idx := strings.Index(value, "-"); idx > 0 {
		a, b := value[:idx], value[idx+1:]
		if isValidStep(a) && isValidStep(b) {
			return value, nil
		}
	}
	return "", fmt.Errorf("invalid step %q", value)
}

func isValidStep(value string) bool {
	if value == "" {
		return false
	}
	if _, err := strconv.Atoi(value); err == nil {
		return true
	}
	return stepPattern.MatchString(value)
}

// coerceNumber matches coerce_number: the floor is 0 when
// NumberAllowZero is enabled, otherwise 1.
func coerceNumber(cfg *Config, value string) (string, error) {
	min := 1
	if cfg.NumberAllowZero {
		min = 0
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return "", fmt.Errorf("invalid number %q", value)
	}
	if n < min {
		return "", fmt.Errorf("number %q below minimum %d", value, min)
	}
	return strconv.Itoa(n), nil
}

// coerceParam matches coerce_param: integers are stringified, strings
// pass through.
func coerceParam(value string) (string, error) {
	return value, nil
}

// coerceTime matches coerce_time: accepts "H"/"HH", "HHMM" or "HH:MM",
// requires an hour of 0-23 and a minute of 0 in every form, and formats
// the result as zero-padded "HHMM".
func coerceTime(value string) (string, error) {
	hour, minute := -1, -1
	switch {
	case strings.Contains(value, ":"):
		parts := strings.SplitN(value, ":", 2)
		h, err := strconv.Atoi(parts[0])
		if err != nil {
			return "", fmt.Errorf("invalid time %q", value)
		}
		m, err := strconv.Atoi(parts[1])
		if err != nil {
			return "", fmt.Errorf("invalid time %q", value)
		}
		hour, minute = h, m
	default:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("invalid time %q", value)
		}
		switch {
		case len(value) <= 2:
			hour, minute = n, 0
		case len(value) == 4:
			hour, minute = n/100, n%100
		default:
			return "", fmt.Errorf("invalid time %q", value)
		}
	}
	if hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in time %q", value)
	}
	if minute != 0 {
		return "", fmt.Errorf("time %q must have minute 0", value)
	}
	return fmt.Sprintf("%02d%02d", hour, minute), nil
}

// coerceExpver matches coerce_expver: an integer 0-9999 zero-padded to 4
// digits, a numeric string handled the same way, or an already-4-char
// string passed through.
func coerceExpver(value string) (string, error) {
	if n, err := strconv.Atoi(value); err == nil {
		if n < 0 || n > 9999 {
			return "", fmt.Errorf("invalid expver %q", value)
		}
		return fmt.Sprintf("%04d", n), nil
	}
	if len(value) == 4 {
		return value, nil
	}
	return "", fmt.Errorf("invalid expver %q", value)
}
