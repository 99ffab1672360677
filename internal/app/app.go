// Package app wires configuration, AWS clients and the chat service into a
// handler shared by the Lambda and HTTP entrypoints.
package app

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"farm-assistant/handler"
	"farm-assistant/internal/config"
	"farm-assistant/internal/integrations/paramstore"
	"farm-assistant/internal/metrics"
	"farm-assistant/internal/repository"
	"farm-assistant/internal/usecase"
	"farm-assistant/internal/webhook"
)

// Build constructs the handler. AWS config is only loaded when SSM or
// DynamoDB is actually needed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*handler.Handler, error) {
	needSSM := cfg.WebhookURL == "" && cfg.ParamPrefix != ""
	needDynamo := cfg.StateTable != ""

	var (
		params config.ParamGetter
		store  usecase.ConversationStore
	)
	if needSSM || needDynamo {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		if needSSM {
			ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return nil, fmt.Errorf("app: create SSM client: %w", err)
			}
			params = ps
		}
		if needDynamo {
			repo, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
			if err != nil {
				return nil, fmt.Errorf("app: create state client: %w", err)
			}
			store = repo
		}
	}

	url, err := cfg.ResolveWebhookURL(ctx, params)
	if err != nil {
		return nil, err
	}

	client, err := webhook.NewClient(url,
		webhook.WithTimeout(cfg.WebhookTimeout),
		webhook.WithFallback(cfg.FallbackEnabled),
		webhook.WithLogger(logger),
		webhook.WithRecorder(metrics.New(reg)),
	)
	if err != nil {
		return nil, fmt.Errorf("app: create webhook client: %w", err)
	}

	svc, err := usecase.NewChatService(client, store, cfg.MaxMessageLength, cfg.HistoryLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("app: create chat service: %w", err)
	}

	logger.Info("chat service ready",
		zap.String("environment", cfg.Environment),
		zap.String("webhookUrl", client.URL()),
		zap.Bool("fallback", cfg.FallbackEnabled),
		zap.Bool("conversationLog", store != nil),
	)
	return handler.NewHandler(svc, logger)
}
