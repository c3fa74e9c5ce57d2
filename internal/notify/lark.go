// Package notify pushes operational alerts to Lark. Alerting is optional;
// an unconfigured notifier is a no-op so the reconciliation path never
// depends on chat availability.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/ai-reconciliation/internal/audit"
	"github.com/garyjia/ai-reconciliation/internal/config"
)

// LarkNotifier sends audit alerts to a Lark chat
type LarkNotifier struct {
	client        *lark.Client
	chatID        string
	receiveIDType string
	logger        *zap.Logger
}

// NewLarkNotifier creates a notifier, or nil when Lark is not configured.
// Callers treat a nil notifier as alerting disabled.
func NewLarkNotifier(cfg config.LarkConfig, logger *zap.Logger) *LarkNotifier {
	if cfg.AppID == "" || cfg.AlertChatID == "" {
		logger.Info("Lark alerting disabled")
		return nil
	}

	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)

	return &LarkNotifier{
		client:        client,
		chatID:        cfg.AlertChatID,
		receiveIDType: cfg.ReceiveIDType,
		logger:        logger,
	}
}

// NotifyAuditEvent pushes a high or critical audit event to the alert chat.
// Implements audit.Notifier.
func (n *LarkNotifier) NotifyAuditEvent(ctx context.Context, event *audit.Event) error {
	text := fmt.Sprintf("[%s] %s\naccount: %s\n%s %s\nactor: %s\ncorrelation: %s",
		event.RiskLevel, event.Type,
		event.AccountID,
		event.ResourceType, event.ResourceID,
		event.Actor, event.CorrelationID)
	for key, value := range event.Payload {
		text += fmt.Sprintf("\n%s: %v", key, value)
	}

	return n.sendText(ctx, text)
}

func (n *LarkNotifier) sendText(ctx context.Context, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(n.receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.chatID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send alert",
			zap.String("chat_id", n.chatID),
			zap.Error(err))
		return fmt.Errorf("failed to send alert: %w", err)
	}
	if !resp.Success() {
		n.logger.Error("Alert API returned failure",
			zap.String("chat_id", n.chatID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("alert API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	n.logger.Info("Alert sent", zap.String("chat_id", n.chatID))
	return nil
}

var _ audit.Notifier = (*LarkNotifier)(nil)
