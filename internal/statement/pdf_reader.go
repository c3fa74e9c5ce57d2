// Package statement converts uploaded bank statement PDFs into bank
// transactions by rendering pages to images and extracting rows with the
// Vision API.
package statement

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/models"
	"github.com/garyjia/ai-reconciliation/internal/oracle"
)

// maxPages caps how many statement pages go to the Vision API per upload.
const maxPages = 10

// PDFReader extracts transaction rows from statement PDFs
type PDFReader struct {
	client  *openai.Client
	model   string
	prompts *oracle.PromptConfig
	logger  *zap.Logger
}

// NewPDFReader creates a PDF statement reader
func NewPDFReader(client *openai.Client, model string, prompts *oracle.PromptConfig, logger *zap.Logger) *PDFReader {
	return &PDFReader{
		client:  client,
		model:   model,
		prompts: prompts,
		logger:  logger,
	}
}

// extractedRow is the Vision API's representation of one statement line
type extractedRow struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Reference   string `json:"reference"`
	Balance     string `json:"balance"`
}

type extractedStatement struct {
	Transactions []extractedRow `json:"transactions"`
}

// ReadAndExtract renders the PDF and extracts its transaction rows. Rows the
// model could not read cleanly are dropped with a warning rather than
// poisoning the import.
func (r *PDFReader) ReadAndExtract(ctx context.Context, pdfPath string) ([]*models.BankTransaction, error) {
	r.logger.Info("Reading statement PDF", zap.String("path", pdfPath))

	images, err := r.renderPages(pdfPath)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no pages rendered from %s", pdfPath)
	}
	if len(images) > maxPages {
		r.logger.Warn("Statement truncated for extraction",
			zap.Int("pages", len(images)),
			zap.Int("max_pages", maxPages))
		images = images[:maxPages]
	}

	extracted, err := r.extractWithVision(ctx, images)
	if err != nil {
		return nil, err
	}

	var txs []*models.BankTransaction
	for i, row := range extracted.Transactions {
		tx, err := r.toTransaction(row)
		if err != nil {
			r.logger.Warn("Dropped unreadable statement row",
				zap.Int("row", i),
				zap.Error(err))
			continue
		}
		txs = append(txs, tx)
	}

	r.logger.Info("Statement extracted",
		zap.Int("pages", len(images)),
		zap.Int("rows", len(extracted.Transactions)),
		zap.Int("transactions", len(txs)))

	return txs, nil
}

// renderPages converts each PDF page to a JPEG
func (r *PDFReader) renderPages(pdfPath string) ([][]byte, error) {
	if _, err := os.Stat(pdfPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("statement file not found: %s", pdfPath)
	}
	if ext := strings.ToLower(filepath.Ext(pdfPath)); ext != ".pdf" {
		return nil, fmt.Errorf("unsupported statement file type: %s", ext)
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var images [][]byte
	for pageNum := 0; pageNum < doc.NumPage(); pageNum++ {
		img, err := doc.Image(pageNum)
		if err != nil {
			r.logger.Warn("Failed to render page", zap.Int("page", pageNum), zap.Error(err))
			continue
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			r.logger.Warn("Failed to encode page", zap.Int("page", pageNum), zap.Error(err))
			continue
		}
		images = append(images, buf.Bytes())
	}
	return images, nil
}

func (r *PDFReader) extractWithVision(ctx context.Context, images [][]byte) (*extractedStatement, error) {
	cfg := r.prompts.StatementExtraction

	contentParts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: cfg.UserTemplate,
	}}
	for _, imgData := range images {
		contentParts = append(contentParts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(imgData)),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: cfg.System,
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: contentParts,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		r.logger.Error("Vision extraction failed", zap.Error(err))
		return nil, fmt.Errorf("vision extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from vision extraction")
	}

	content := resp.Choices[0].Message.Content
	var extracted extractedStatement
	if err := json.Unmarshal([]byte(content), &extracted); err != nil {
		r.logger.Error("Failed to parse vision extraction response",
			zap.String("content", content),
			zap.Error(err))
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	return &extracted, nil
}

// toTransaction validates and converts one extracted row
func (r *PDFReader) toTransaction(row extractedRow) (*models.BankTransaction, error) {
	date, err := time.Parse("2006-01-02", row.Date)
	if err != nil {
		return nil, fmt.Errorf("bad date %q: %w", row.Date, err)
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(row.Amount, ",", ""))
	if err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", row.Amount, err)
	}
	if row.Reference == "" {
		return nil, fmt.Errorf("missing reference on row dated %s", row.Date)
	}

	txType := models.BankTransactionType(strings.ToLower(row.Type))
	if txType != models.BankTransactionDebit && txType != models.BankTransactionCredit {
		// Fall back to the amount sign when the statement has no column.
		if amount.IsNegative() {
			txType = models.BankTransactionDebit
		} else {
			txType = models.BankTransactionCredit
		}
	}

	balance := decimal.Zero
	if row.Balance != "" {
		if balance, err = decimal.NewFromString(strings.ReplaceAll(row.Balance, ",", "")); err != nil {
			return nil, fmt.Errorf("bad balance %q: %w", row.Balance, err)
		}
	}

	return &models.BankTransaction{
		Date:        date,
		Description: strings.TrimSpace(row.Description),
		Amount:      amount,
		Balance:     balance,
		Reference:   row.Reference,
		Type:        txType,
		Source:      models.SourceBankImport,
	}, nil
}
