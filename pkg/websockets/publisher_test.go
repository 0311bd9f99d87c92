package websockets_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/chris/shard-rewards/pkg/websockets"
	"github.com/chris/shard-rewards/pkg/websockets/mocks"
)

type fakeConnections struct {
	byUser  map[uint][]string
	removed []string
	listErr error
}

func (f *fakeConnections) ListConnections(_ context.Context, userID uint) ([]string, error) {
	return f.byUser[userID], f.listErr
}

func (f *fakeConnections) AddConnection(_ context.Context, connectionID string, userID uint) error {
	f.byUser[userID] = append(f.byUser[userID], connectionID)
	return nil
}

func (f *fakeConnections) RemoveConnection(_ context.Context, connectionID string) error {
	f.removed = append(f.removed, connectionID)
	return nil
}

func TestPublish(t *testing.T) {
	message := websockets.Message{
		Type:    websockets.MessageTypeBalanceUpdate,
		Payload: websockets.BalanceUpdatePayload{UserID: 7, EntryType: "poster", Change: 1, NewBalance: 4},
	}

	t.Run("Delivers to each connection of the user", func(t *testing.T) {
		conns := &fakeConnections{byUser: map[uint][]string{7: {"a", "b"}, 8: {"c"}}}
		client := mocks.NewPostToConnectionAPI(t)
		client.On("PostToConnection", mock.Anything, mock.MatchedBy(func(in *apigatewaymanagementapi.PostToConnectionInput) bool {
			var got websockets.Message
			return json.Unmarshal(in.Data, &got) == nil && got.Type == websockets.MessageTypeBalanceUpdate
		})).Return(&apigatewaymanagementapi.PostToConnectionOutput{}, nil).Twice()

		p := websockets.NewPublisherWithClient(conns, conns, client)
		err := p.Publish(context.Background(), 7, message)

		assert.NoError(t, err)
		assert.Empty(t, conns.removed)
	})

	t.Run("Removes stale connections", func(t *testing.T) {
		conns := &fakeConnections{byUser: map[uint][]string{7: {"gone"}}}
		client := mocks.NewPostToConnectionAPI(t)
		client.On("PostToConnection", mock.Anything, mock.Anything).Return(nil, &apigwtypes.GoneException{})

		p := websockets.NewPublisherWithClient(conns, conns, client)
		err := p.Publish(context.Background(), 7, message)

		assert.NoError(t, err)
		assert.Equal(t, []string{"gone"}, conns.removed)
	})

	t.Run("Returns delivery errors", func(t *testing.T) {
		conns := &fakeConnections{byUser: map[uint][]string{7: {"a"}}}
		client := mocks.NewPostToConnectionAPI(t)
		client.On("PostToConnection", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

		p := websockets.NewPublisherWithClient(conns, conns, client)
		err := p.Publish(context.Background(), 7, message)

		assert.ErrorContains(t, err, "throttled")
	})

	t.Run("Connection lookup failure", func(t *testing.T) {
		conns := &fakeConnections{listErr: errors.New("dynamo down")}
		client := mocks.NewPostToConnectionAPI(t)

		p := websockets.NewPublisherWithClient(conns, conns, client)
		err := p.Publish(context.Background(), 7, message)

		assert.ErrorContains(t, err, "failed to list connections")
	})
}
