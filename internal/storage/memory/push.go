package memory

import (
	"context"
	"sync"

	"github.com/chatline/internal/model"
)

const maxSubsPerUser = 10

// PushSubscriptions — подписки Web Push в памяти (push-сервис без REDIS_URL).
type PushSubscriptions struct {
	mu   sync.Mutex
	subs map[string][]model.PushSubscription
}

func NewPushSubscriptions() *PushSubscriptions {
	return &PushSubscriptions{subs: make(map[string][]model.PushSubscription)}
}

func (p *PushSubscriptions) AddSubscription(ctx context.Context, userID string, sub model.PushSubscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := withoutEndpoint(p.subs[userID], sub.Endpoint)
	list = append(list, sub)
	if len(list) > maxSubsPerUser {
		list = list[len(list)-maxSubsPerUser:]
	}
	p.subs[userID] = list
	return nil
}

func (p *PushSubscriptions) Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.PushSubscription{}, p.subs[userID]...), nil
}

func (p *PushSubscriptions) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[userID] = withoutEndpoint(p.subs[userID], endpoint)
	return nil
}

func withoutEndpoint(list []model.PushSubscription, endpoint string) []model.PushSubscription {
	out := make([]model.PushSubscription, 0, len(list))
	for _, s := range list {
		if s.Endpoint != endpoint {
			out = append(out, s)
		}
	}
	return out
}
