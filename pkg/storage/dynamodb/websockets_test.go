package dynamodb

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/shard-rewards/pkg/storage/dynamodb/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestAddConnection(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			var conn WebSocketConnection
			if err := attributevalue.UnmarshalMap(in.Item, &conn); err != nil {
				return false
			}
			return aws.ToString(in.TableName) == "connections" && conn.PK == "user#42" && conn.ConnectionID == "abc" && conn.TTL > 0
		})).Return(&dynamodb.PutItemOutput{}, nil)

		store := New(mockClient, "connections")
		err := store.AddConnection(context.Background(), "abc", 42)

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("PutItem", mock.Anything, mock.Anything).Return(nil, errors.New("some other storage error"))

		store := New(mockClient, "connections")
		err := store.AddConnection(context.Background(), "abc", 42)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to put item")
		mockClient.AssertExpectations(t)
	})
}

func TestRemoveConnection(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("DeleteItem", mock.Anything, mock.Anything).Return(&dynamodb.DeleteItemOutput{}, nil)

		store := New(mockClient, "connections")
		err := store.RemoveConnection(context.Background(), "abc")

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("DeleteItem", mock.Anything, mock.Anything).Return(nil, errors.New("some other storage error"))

		store := New(mockClient, "connections")
		err := store.RemoveConnection(context.Background(), "abc")

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to delete item")
		mockClient.AssertExpectations(t)
	})
}

func TestListConnections(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		items := []map[string]types.AttributeValue{
			{"connection_id": &types.AttributeValueMemberS{Value: "abc"}},
			{"connection_id": &types.AttributeValueMemberS{Value: "def"}},
		}
		mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			pk, ok := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS)
			return ok && pk.Value == "user#7"
		})).Return(&dynamodb.QueryOutput{Items: items}, nil)

		store := New(mockClient, "connections")
		ids, err := store.ListConnections(context.Background(), 7)

		assert.NoError(t, err)
		assert.Equal(t, []string{"abc", "def"}, ids)
		mockClient.AssertExpectations(t)
	})

	t.Run("Storage Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		mockClient.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("some other storage error"))

		store := New(mockClient, "connections")
		_, err := store.ListConnections(context.Background(), 7)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query connections table")
		mockClient.AssertExpectations(t)
	})
}
