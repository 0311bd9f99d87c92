package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/chris/shard-rewards/pkg/storage"
)

// DynamoDBAPI is the part of the DynamoDB client the connection registry uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store keeps push connection ids in a DynamoDB table.
type Store struct {
	Client                        DynamoDBAPI
	WebsocketConnectionsTableName string
}

// New creates a new Store.
func New(client DynamoDBAPI, connectionsTable string) *Store {
	return &Store{
		Client:                        client,
		WebsocketConnectionsTableName: connectionsTable,
	}
}

// Make sure we conform to the interface
var _ storage.ConnectionStore = (*Store)(nil)
