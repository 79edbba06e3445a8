package permission

import (
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Rules holds raw rule strings as they appear in settings.
type Rules struct {
	Allow []string
	Deny  []string
	Ask   []string
}

// Checker evaluates permission rules for one working directory.
type Checker struct {
	allow []Rule
	deny  []Rule
	ask   []Rule
	cwd   string
	home  string
}

// NewChecker parses rules. Malformed rule strings are logged and skipped.
func NewChecker(rules Rules, cwd string) *Checker {
	home, _ := os.UserHomeDir()
	return &Checker{
		allow: parseRules(rules.Allow),
		deny:  parseRules(rules.Deny),
		ask:   parseRules(rules.Ask),
		cwd:   cwd,
		home:  home,
	}
}

func parseRules(raw []string) []Rule {
	rules := make([]Rule, 0, len(raw))
	for _, s := range raw {
		r, err := ParseRule(s)
		if err != nil {
			log.Warn().Str("rule", s).Msg("skipping malformed permission rule")
			continue
		}
		rules = append(rules, r)
	}
	return rules
}

// Check decides allow, deny or ask for one invocation.
func (c *Checker) Check(toolName string, input map[string]any) Result {
	if !IsBridgeTool(toolName) {
		return Result{Decision: DecisionAsk}
	}
	tiers := []struct {
		rules    []Rule
		decision Decision
	}{
		{c.deny, DecisionDeny},
		{c.allow, DecisionAllow},
		{c.ask, DecisionAsk},
	}
	for _, tier := range tiers {
		for i := range tier.rules {
			if tier.rules[i].matches(toolName, input, c.cwd, c.home) {
				rule := tier.rules[i]
				return Result{Decision: tier.decision, Rule: &rule}
			}
		}
	}
	return Result{Decision: DecisionAsk}
}

// Grants are allow rules approved interactively during a session.
type Grants struct {
	mu    sync.RWMutex
	rules []Rule
	cwd   string
	home  string
}

// NewGrants creates an empty grant set for a working directory.
func NewGrants(cwd string) *Grants {
	home, _ := os.UserHomeDir()
	return &Grants{cwd: cwd, home: home}
}

// Add records a rule. Duplicates are ignored.
func (g *Grants) Add(r Rule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.rules {
		if existing.String() == r.String() {
			return
		}
	}
	g.rules = append(g.rules, r)
}

// Allows reports whether a granted rule matches the invocation.
func (g *Grants) Allows(toolName string, input map[string]any) (Rule, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.rules {
		if r.matches(toolName, input, g.cwd, g.home) {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the granted rules.
func (g *Grants) Rules() []Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Rule(nil), g.rules...)
}
