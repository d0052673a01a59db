package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/proximity-ticket-handshake/internal/model"
)

const channelPrefix = "handshake.op."

func channelFor(operationID string) string { return channelPrefix + operationID }

// Publisher pushes state transitions onto the operation's Redis
// channel. A nil client disables publishing (deployments without
// Redis degrade to snapshot polling); the relay treats publish
// errors as non-fatal for the same reason.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher { return &Publisher{rdb: rdb} }

// PublishState sends the operation's current state to its channel.
func (p *Publisher) PublishState(ctx context.Context, op model.PendingOperation) error {
	if p.rdb == nil {
		return nil
	}
	body, err := json.Marshal(EventFromOperation(op))
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, channelFor(op.OperationID), body).Err()
}
