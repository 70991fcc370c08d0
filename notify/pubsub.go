package notify

import (
	"context"
	"encoding/json"

	"questlog/cache"

	"github.com/google/uuid"
)

// ChannelName is the pub/sub channel carrying one user's notifications.
func ChannelName(userID string) string {
	return "notify:" + userID
}

// Envelope is the wire form published to subscribers. Clients key on
// Handle to replace an existing toast instead of stacking a new one.
type Envelope struct {
	Handle string `json:"handle"`
	Notification
}

// PubSubChannel fans notifications out through the cache pub/sub, where
// the SSE endpoint picks them up per user.
type PubSubChannel struct {
	ps cache.PubSub
}

func NewPubSubChannel(ps cache.PubSub) *PubSubChannel {
	return &PubSubChannel{ps: ps}
}

func (p *PubSubChannel) Create(ctx context.Context, userID string, n Notification) (string, error) {
	handle := uuid.New().String()
	if err := p.publish(ctx, userID, handle, n); err != nil {
		return "", err
	}
	return handle, nil
}

func (p *PubSubChannel) Update(ctx context.Context, userID, handle string, n Notification) error {
	return p.publish(ctx, userID, handle, n)
}

func (p *PubSubChannel) publish(ctx context.Context, userID, handle string, n Notification) error {
	raw, err := json.Marshal(Envelope{Handle: handle, Notification: n})
	if err != nil {
		return err
	}
	return p.ps.Publish(ctx, ChannelName(userID), string(raw))
}
