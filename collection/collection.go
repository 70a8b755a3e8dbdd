// Package collection wires Request dispatch to an ordered list of
// DataSource backends, grounded on the original implementation's
// common/collection.py (dispatch, create_collections).
package collection

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/ecmwf/reqbroker/coercion"
	"github.com/ecmwf/reqbroker/datasource"
	"github.com/ecmwf/reqbroker/request"
)

// Limits configures admission control for a Collection, matching the
// "limits" block broker.py's check_limits reads.
type Limits struct {
	// Total caps the number of simultaneously active requests for the
	// whole collection, regardless of owner.
	Total int

	// PerRole maps realm -> role -> max active requests for users
	// holding that role in that realm.
	PerRole map[string]map[string]int

	// PerUser is the fallback per-user cap applied when a user holds no
	// role with a configured PerRole limit.
	PerUser int
}

// DataSourceConfig names one datasource a Collection may dispatch to,
// in the order configured.
type DataSourceConfig struct {
	Type string
	// Roles restricts this specific datasource to users holding one of
	// these roles (independent of the collection-level Roles check),
	// mirroring datasource.py: dispatch's datasource-specific roles gate.
	Roles  []string
	Config map[string]any

	// Match carries this datasource's `match:` block (e.g.
	// {"date": "> 30d"}), evaluated against the coerced request before
	// dispatch, mirroring mars.py/polytope.py's
	// `self.match_rules = config.get("match", {})`. Kept separate from
	// Config since it is evaluated by the shared datasource.MatchFields
	// helper rather than by the datasource's own construction.
	Match map[string]any
}

// Collection groups a named set of datasources behind shared access
// control and limits.
type Collection struct {
	Name string
	// Roles restricts the whole collection to users holding one of
	// these roles; empty means unrestricted.
	Roles       []string
	Limits      Limits
	DataSources []DataSourceConfig

	instances []datasource.DataSource
}

// New builds a Collection and eagerly instantiates its configured
// datasources, matching Collection.__init__ raising InvalidConfig if no
// datasources are configured.
func New(name string, roles []string, limits Limits, dsConfigs []DataSourceConfig) (*Collection, error) {
	if len(dsConfigs) == 0 {
		return nil, fmt.Errorf("collection %q: no datasources configured", name)
	}
	c := &Collection{Name: name, Roles: roles, Limits: limits, DataSources: dsConfigs}
	for _, dsc := range dsConfigs {
		inst, err := datasource.Create(dsc.Type, dsc.Config)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", name, err)
		}
		c.instances = append(c.instances, inst)
	}
	return c, nil
}

// RolesAllowed reports whether user may access this collection at all,
// independent of any per-datasource restriction.
func (c *Collection) RolesAllowed(user *request.User) bool {
	return user.IsAuthorized(c.Roles)
}

// Dispatch coerces r.UserRequest and tries each configured datasource in
// order, matching collection.py's dispatch: datasources are tried in
// configuration order; the first whose per-datasource role gate passes,
// whose Match succeeds and whose verb dispatch succeeds handles the
// request, and a datasource that matches but fails is skipped in favour
// of the next. A UserRequest that is valid YAML but not a mapping (e.g.
// a bare "hello" or "10") is handed to the datasources as-is, with an
// empty coerced request. On success it returns the datasource instance that handled
// it, so the caller (worker) can fetch Result and later call Destroy on
// that exact instance, matching the original returning the winning
// datasource object from collection.dispatch().
func (c *Collection) Dispatch(ctx context.Context, r *request.Request, input io.Reader) (datasource.DataSource, error) {
	raw := map[string]any{}
	if r.UserRequest != "" {
		var parsed any
		if err := yaml.Unmarshal([]byte(r.UserRequest), &parsed); err != nil {
			return nil, fmt.Errorf("collection %q: invalid request body: %w", c.Name, err)
		}
		if m, ok := parsed.(map[string]any); ok {
			raw = m
		}
	}
	coerced, err := coercion.Coerce(coercion.DefaultConfig(), raw)
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", c.Name, err)
	}

	var matchErrors []string
	var matchedButFailed []string
	for i, dsc := range c.DataSources {
		if len(dsc.Roles) > 0 && !r.User.IsAuthorized(dsc.Roles) {
			continue
		}
		ds := c.instances[i]
		matched, succeeded, err := datasource.Dispatch(ctx, ds, dsc.Match, coerced, r, input)
		if err != nil {
			if matched {
				matchedButFailed = append(matchedButFailed, fmt.Sprintf("%s: %v", ds.Repr(), err))
			} else {
				matchErrors = append(matchErrors, fmt.Sprintf("%s: %v", ds.Repr(), err))
			}
			continue
		}
		if !matched {
			continue
		}
		if !succeeded {
			matchedButFailed = append(matchedButFailed, fmt.Sprintf("%s: dispatch did not succeed", ds.Repr()))
			continue
		}
		return ds, nil
	}
	if len(matchedButFailed) > 0 {
		return nil, fmt.Errorf("collection %q: matched but failed: %v", c.Name, matchedButFailed)
	}
	return nil, fmt.Errorf("collection %q: no datasource matched: %v", c.Name, matchErrors)
}
