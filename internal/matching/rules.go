package matching

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/garyjia/ai-reconciliation/internal/models"
	"gopkg.in/yaml.v3"
)

// RuleProvider supplies the ordered reconciliation rule set. Injected rather
// than held in a process-wide registry so tenants never share rule state.
type RuleProvider interface {
	Rules() []models.ReconciliationRule
}

// RuleEngine evaluates an ordered rule set against a transaction's
// description and reference. First matching rule wins.
type RuleEngine struct {
	rules    []models.ReconciliationRule
	compiled map[string]*regexp.Regexp
}

// NewRuleEngine creates a rule engine over the provider's rule set. Regex
// rules with invalid patterns are rejected up front.
func NewRuleEngine(provider RuleProvider) (*RuleEngine, error) {
	rules := provider.Rules()
	compiled := make(map[string]*regexp.Regexp)

	for _, rule := range rules {
		if !rule.Regex {
			continue
		}
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern in rule %s: %w", rule.ID, err)
		}
		compiled[rule.ID] = re
	}

	return &RuleEngine{rules: rules, compiled: compiled}, nil
}

// Evaluate returns the first rule matching the description or reference, or
// nil when no rule applies.
func (e *RuleEngine) Evaluate(description, reference string) *models.ReconciliationRule {
	for i := range e.rules {
		rule := &e.rules[i]
		if e.matches(rule, description) || e.matches(rule, reference) {
			return rule
		}
	}
	return nil
}

func (e *RuleEngine) matches(rule *models.ReconciliationRule, text string) bool {
	if text == "" {
		return false
	}
	if re, ok := e.compiled[rule.ID]; ok {
		return re.MatchString(text)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(rule.Pattern))
}

// StaticRuleProvider wraps a fixed rule slice, used by tests and by callers
// that assemble rules programmatically.
type StaticRuleProvider struct {
	rules []models.ReconciliationRule
}

// NewStaticRuleProvider creates a provider over the given rules.
func NewStaticRuleProvider(rules []models.ReconciliationRule) *StaticRuleProvider {
	return &StaticRuleProvider{rules: rules}
}

// Rules returns the configured rule set.
func (p *StaticRuleProvider) Rules() []models.ReconciliationRule {
	return p.rules
}

// ruleFile is the YAML layout of a rule configuration file.
type ruleFile struct {
	Rules []models.ReconciliationRule `yaml:"rules"`
}

// LoadRulesFromFile reads an admin-configured YAML rule file.
func LoadRulesFromFile(path string) (*StaticRuleProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	for _, rule := range rf.Rules {
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return nil, fmt.Errorf("rule %s: confidence must be in [0, 1], got %.2f", rule.ID, rule.Confidence)
		}
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
	}

	return NewStaticRuleProvider(rf.Rules), nil
}
