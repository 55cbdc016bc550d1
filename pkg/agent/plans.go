package agent

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var defaultPlans []byte //nolint:gochecknoglobals // embedded asset

// Intent names the kind of action a step starts with.
type Intent string

// Intents and the dispatcher tools they map to.
const (
	IntentAnalyze Intent = "analyze"
	IntentModify  Intent = "modify"
	IntentCreate  Intent = "create"
	IntentVerify  Intent = "verify"
	IntentHelp    Intent = "help"
)

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	switch i {
	case IntentAnalyze, IntentModify, IntentCreate, IntentVerify, IntentHelp:
		return true
	default:
		return false
	}
}

// Step is one sub-goal of a plan.
type Step struct {
	Goal     string   `yaml:"goal"`
	Intent   Intent   `yaml:"intent"`
	DoneWhen []string `yaml:"done_when"`
}

// Plan is a canned decomposition.
type Plan struct {
	Name  string   `yaml:"name"`
	Match []string `yaml:"match"`
	Steps []Step   `yaml:"steps"`

	patterns []*regexp.Regexp
}

// Expand returns the plan's steps with {request} substituted.
func (p Plan) Expand(request string) []Step {
	out := make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		s.Goal = strings.ReplaceAll(s.Goal, "{request}", request)
		out[i] = s
	}
	return out
}

// Catalog holds the plans in match order.
type Catalog struct {
	plans    []Plan
	fallback Plan
}

// ParsePlans decodes a YAML plan catalog. Exactly one plan must be named
// "default"; it is used when no other plan matches.
func ParsePlans(data []byte) (*Catalog, error) {
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	c := &Catalog{}
	var haveDefault bool
	for _, p := range doc.Plans {
		if p.Name == "" {
			return nil, errors.New("parse plans: plan without a name")
		}
		if len(p.Steps) == 0 {
			return nil, fmt.Errorf("parse plans: plan %q has no steps", p.Name)
		}
		for i, s := range p.Steps {
			if s.Goal == "" {
				return nil, fmt.Errorf("parse plans: plan %q step %d has no goal", p.Name, i+1)
			}
			if !s.Intent.Valid() {
				return nil, fmt.Errorf("parse plans: plan %q step %d has unknown intent %q", p.Name, i+1, s.Intent)
			}
		}
		if p.Name == "default" {
			c.fallback = p
			haveDefault = true
			continue
		}
		p.patterns = terms(p.Match...)
		c.plans = append(c.plans, p)
	}
	if !haveDefault {
		return nil, errors.New("parse plans: no default plan")
	}
	return c, nil
}

// DefaultCatalog returns the embedded plan catalog.
func DefaultCatalog() *Catalog {
	c, err := ParsePlans(defaultPlans)
	if err != nil {
		panic(err) // embedded file is covered by tests
	}
	return c
}

// For returns the plan for request.
func (c *Catalog) For(request string) Plan {
	t := strings.ToLower(request)
	for _, p := range c.plans {
		if anyMatch(p.patterns, t) {
			return p
		}
	}
	return c.fallback
}

// Names lists plan names, default last.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.plans)+1)
	for _, p := range c.plans {
		out = append(out, p.Name)
	}
	return append(out, c.fallback.Name)
}
