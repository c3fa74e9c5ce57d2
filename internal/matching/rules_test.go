package matching

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules() []models.ReconciliationRule {
	return []models.ReconciliationRule{
		{
			ID:             "paypal_fees",
			Pattern:        "PAYPAL *FEE",
			TargetCategory: "payment_processing_fees",
			Confidence:     0.95,
			Description:    "PayPal processing fees",
		},
		{
			ID:             "aws_hosting",
			Pattern:        `AWS|AMAZON WEB SERVICES`,
			TargetCategory: "hosting",
			Confidence:     0.9,
			Regex:          true,
		},
	}
}

func TestRuleEngineEvaluate(t *testing.T) {
	engine, err := NewRuleEngine(NewStaticRuleProvider(testRules()))
	require.NoError(t, err)

	tests := []struct {
		name        string
		description string
		reference   string
		wantRule    string
	}{
		{
			name:        "substring match on description",
			description: "PAYPAL *FEE 12345",
			wantRule:    "paypal_fees",
		},
		{
			name:        "substring match is case-insensitive",
			description: "paypal *fee 98765",
			wantRule:    "paypal_fees",
		},
		{
			name:      "regex match on reference",
			reference: "amazon web services invoice",
			wantRule:  "aws_hosting",
		},
		{
			name:        "no rule applies",
			description: "GROCERY STORE 44",
			wantRule:    "",
		},
		{
			name:     "empty inputs match nothing",
			wantRule: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := engine.Evaluate(tt.description, tt.reference)
			if tt.wantRule == "" {
				assert.Nil(t, rule)
				return
			}
			require.NotNil(t, rule)
			assert.Equal(t, tt.wantRule, rule.ID)
		})
	}
}

func TestRuleEngineFirstRuleWins(t *testing.T) {
	rules := []models.ReconciliationRule{
		{ID: "first", Pattern: "fee", TargetCategory: "a", Confidence: 0.9},
		{ID: "second", Pattern: "fee", TargetCategory: "b", Confidence: 0.99},
	}
	engine, err := NewRuleEngine(NewStaticRuleProvider(rules))
	require.NoError(t, err)

	rule := engine.Evaluate("SERVICE FEE", "")
	require.NotNil(t, rule)
	assert.Equal(t, "first", rule.ID)
}

func TestNewRuleEngineRejectsBadRegex(t *testing.T) {
	rules := []models.ReconciliationRule{
		{ID: "broken", Pattern: "([", Confidence: 0.9, Regex: true},
	}
	_, err := NewRuleEngine(NewStaticRuleProvider(rules))
	assert.Error(t, err)
}

func TestLoadRulesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  - id: paypal_fees
    pattern: "PAYPAL *FEE"
    target_category: payment_processing_fees
    confidence: 0.95
    description: PayPal processing fees
  - id: stripe_fees
    pattern: "STRIPE"
    target_category: payment_processing_fees
    confidence: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	provider, err := LoadRulesFromFile(path)
	require.NoError(t, err)
	assert.Len(t, provider.Rules(), 2)
	assert.Equal(t, "paypal_fees", provider.Rules()[0].ID)
	assert.Equal(t, 0.95, provider.Rules()[0].Confidence)
}

func TestLoadRulesFromFileRejectsBadConfidence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  - id: bad
    pattern: "x"
    confidence: 1.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := LoadRulesFromFile(path)
	assert.Error(t, err)
}
