package websockets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
)

// PostToConnectionAPI is the part of the API Gateway management client we use.
type PostToConnectionAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// DefaultPublisher pushes messages through an API Gateway websocket API.
type DefaultPublisher struct {
	store       ConnectionLister
	connManager ConnectionManager
	apiGwClient PostToConnectionAPI
}

// NewPublisher creates a DefaultPublisher for the given API Gateway endpoint.
func NewPublisher(ctx context.Context, store ConnectionLister, connManager ConnectionManager, apiEndpoint string) (*DefaultPublisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	apiGwClient := apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(apiEndpoint)
	})

	return NewPublisherWithClient(store, connManager, apiGwClient), nil
}

// NewPublisherWithClient creates a DefaultPublisher around an existing client.
func NewPublisherWithClient(store ConnectionLister, connManager ConnectionManager, client PostToConnectionAPI) *DefaultPublisher {
	return &DefaultPublisher{
		store:       store,
		connManager: connManager,
		apiGwClient: client,
	}
}

// Publish sends a message to every connection of the user. Stale
// connections are removed; other delivery errors are joined and returned.
func (p *DefaultPublisher) Publish(ctx context.Context, userID uint, message Message) error {
	connectionIDs, err := p.store.ListConnections(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var errs []error
	for _, connectionID := range connectionIDs {
		_, err := p.apiGwClient.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(connectionID),
			Data:         payload,
		})
		if err == nil {
			continue
		}

		var goneErr *apigwtypes.GoneException
		if errors.As(err, &goneErr) {
			slog.InfoContext(ctx, "stale connection found, deleting", "connectionId", connectionID, "user_id", userID)
			if err := p.connManager.RemoveConnection(ctx, connectionID); err != nil {
				slog.ErrorContext(ctx, "failed to delete stale connection", "error", err)
			}
			continue
		}
		slog.ErrorContext(ctx, "failed to post to connection", "connectionId", connectionID, "error", err)
		errs = append(errs, fmt.Errorf("connection %s: %w", connectionID, err))
	}

	return errors.Join(errs...)
}
