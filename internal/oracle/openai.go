package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Config holds the OpenAI oracle configuration.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIOracle implements Oracle against the OpenAI chat completions API.
type OpenAIOracle struct {
	client  *openai.Client
	cfg     Config
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewOpenAIOracle creates a new OpenAI-backed oracle.
func NewOpenAIOracle(cfg Config, prompts *PromptConfig, logger *zap.Logger) *OpenAIOracle {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &OpenAIOracle{
		client:  openai.NewClient(cfg.APIKey),
		cfg:     cfg,
		prompts: prompts,
		logger:  logger,
	}
}

// Provider returns the provider name recorded on categorization attempts.
func (o *OpenAIOracle) Provider() string { return "openai" }

// Model returns the configured model name.
func (o *OpenAIOracle) Model() string { return o.cfg.Model }

// Classify asks the model for a spend category for one transaction.
func (o *OpenAIOracle) Classify(ctx context.Context, tx TransactionView) (*Classification, error) {
	prompt, err := renderTemplate(o.prompts.Classify.UserTemplate, tx)
	if err != nil {
		return nil, err
	}

	content, err := o.complete(ctx, o.prompts.Classify.System, prompt,
		o.prompts.Classify.Temperature, o.prompts.Classify.MaxTokens)
	if err != nil {
		return nil, err
	}

	var result Classification
	if err := parseJSONResponse(content, &result); err != nil {
		o.logger.Error("Failed to parse classification response",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("%w: unparseable classification response", ErrUnavailable)
	}

	result.Confidence = clamp01(result.Confidence)

	o.logger.Info("Transaction classified",
		zap.String("transaction_id", tx.ID),
		zap.String("category", result.Category),
		zap.Float64("confidence", result.Confidence))

	return &result, nil
}

// FindMatchCandidates asks the model to pick the candidate recording the same
// economic event as the bank transaction. Returns nil when the model declines
// or names a candidate outside the given set.
func (o *OpenAIOracle) FindMatchCandidates(ctx context.Context, bankTx TransactionView, candidates []TransactionView) (*MatchSuggestion, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	bankJSON, err := json.MarshalIndent(bankTx, "", "  ")
	if err != nil {
		return nil, err
	}
	candidatesJSON, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return nil, err
	}

	prompt, err := renderTemplate(o.prompts.MatchCandidates.UserTemplate, map[string]string{
		"BankJSON":       string(bankJSON),
		"CandidatesJSON": string(candidatesJSON),
	})
	if err != nil {
		return nil, err
	}

	content, err := o.complete(ctx, o.prompts.MatchCandidates.System, prompt,
		o.prompts.MatchCandidates.Temperature, o.prompts.MatchCandidates.MaxTokens)
	if err != nil {
		return nil, err
	}

	var result MatchSuggestion
	if err := parseJSONResponse(content, &result); err != nil {
		o.logger.Error("Failed to parse match suggestion",
			zap.Error(err),
			zap.String("content", content))
		return nil, fmt.Errorf("%w: unparseable match response", ErrUnavailable)
	}

	if result.CandidateID == "" {
		return nil, nil
	}

	// The model occasionally hallucinates IDs; only accept candidates we sent
	known := false
	for _, c := range candidates {
		if c.ID == result.CandidateID {
			known = true
			break
		}
	}
	if !known {
		o.logger.Warn("Oracle suggested unknown candidate, discarding",
			zap.String("bank_transaction_id", bankTx.ID),
			zap.String("candidate_id", result.CandidateID))
		return nil, nil
	}

	result.Confidence = clamp01(result.Confidence)
	return &result, nil
}

// SubmitFeedback uploads the correction as a fine-tuning example so future
// model revisions learn from human ground truth.
func (o *OpenAIOracle) SubmitFeedback(ctx context.Context, correction Correction) error {
	example := map[string]interface{}{
		"messages": []map[string]string{
			{"role": "system", "content": o.prompts.Classify.System},
			{"role": "user", "content": fmt.Sprintf("Transaction %s was categorized as %q. Correction: %s",
				correction.TransactionID, correction.OriginalCategory, correction.Reasoning)},
			{"role": "assistant", "content": fmt.Sprintf(`{"category": %q, "confidence": %.2f, "explanation": "human correction"}`,
				correction.CorrectedCategory, correction.Confidence)},
		},
	}

	line, err := json.Marshal(example)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()

	_, err = o.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    fmt.Sprintf("categorization-feedback-%s.jsonl", correction.TransactionID),
		Bytes:   line,
		Purpose: openai.PurposeFineTune,
	})
	if err != nil {
		o.logger.Error("Failed to submit categorization feedback", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	o.logger.Info("Categorization feedback submitted",
		zap.String("transaction_id", correction.TransactionID),
		zap.String("corrected_category", correction.CorrectedCategory))
	return nil
}

// complete issues one chat completion under the configured timeout.
func (o *OpenAIOracle) complete(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()

	if temperature == 0 {
		temperature = o.cfg.Temperature
	}
	if maxTokens == 0 {
		maxTokens = o.cfg.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		o.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIOracle) timeout() time.Duration {
	if o.cfg.Timeout > 0 {
		return o.cfg.Timeout
	}
	return 30 * time.Second
}

// parseJSONResponse unmarshals content, falling back to JSON embedded in
// markdown code fences.
func parseJSONResponse(content string, v interface{}) error {
	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}
	if jsonStr := extractJSON(content); jsonStr != "" {
		return json.Unmarshal([]byte(jsonStr), v)
	}
	return fmt.Errorf("no JSON object found in response")
}

// extractJSON pulls a JSON object out of a ```json fence or the first
// balanced brace pair.
func extractJSON(content string) string {
	if idx := strings.Index(content, "```json"); idx >= 0 {
		rest := content[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
