package oracle

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the prompts and model parameters used by the OpenAI
// oracle.
type PromptConfig struct {
	Classify struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		System       string  `yaml:"system"`
		UserTemplate string  `yaml:"user_template"`
	} `yaml:"classify"`

	MatchCandidates struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		System       string  `yaml:"system"`
		UserTemplate string  `yaml:"user_template"`
	} `yaml:"match_candidates"`

	StatementExtraction struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		System       string  `yaml:"system"`
		UserTemplate string  `yaml:"user_template"`
	} `yaml:"statement_extraction"`
}

// LoadPrompts loads prompt configuration from a YAML file.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var prompts PromptConfig
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	return &prompts, nil
}

// DefaultPrompts returns the built-in prompt configuration, used when no
// prompts file is configured.
func DefaultPrompts() *PromptConfig {
	var p PromptConfig

	p.Classify.Temperature = 0.2
	p.Classify.MaxTokens = 500
	p.Classify.System = "You are a financial categorization assistant. Assign a spend category to the transaction. Respond with JSON: {\"category\": string, \"confidence\": number 0-1, \"explanation\": string}."
	p.Classify.UserTemplate = "Transaction:\nDescription: {{.Description}}\nAmount: {{.Amount}}\nDate: {{.Date.Format \"2006-01-02\"}}\nType: {{.Type}}"

	p.MatchCandidates.Temperature = 0.2
	p.MatchCandidates.MaxTokens = 700
	p.MatchCandidates.System = "You are a bank reconciliation assistant. Given a bank transaction and candidate book transactions, pick the candidate that records the same economic event, or decline. Respond with JSON: {\"candidate_id\": string or \"\", \"confidence\": number 0-1, \"explanation\": string}."
	p.MatchCandidates.UserTemplate = "Bank transaction:\n{{.BankJSON}}\n\nCandidates:\n{{.CandidatesJSON}}"

	p.StatementExtraction.Temperature = 0.1
	p.StatementExtraction.MaxTokens = 2000
	p.StatementExtraction.System = "You extract transaction rows from bank statement pages. Respond with JSON: {\"transactions\": [{\"date\": \"YYYY-MM-DD\", \"description\": string, \"amount\": string, \"type\": \"debit\"|\"credit\", \"reference\": string, \"balance\": string}]}."
	p.StatementExtraction.UserTemplate = "Extract every transaction row from the attached statement page images."

	return &p
}

// renderTemplate renders a prompt template with the provided data.
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
