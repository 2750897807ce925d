package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyike/CareMesh/consts"
)

// Store is an ephemeral key-value store with per-key expiry. A missing key
// is not an error.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// ListKeys returns the keys matching a glob pattern in lexical order.
	ListKeys(ctx context.Context, pattern string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

func BroadcastKey(requester string) string {
	return fmt.Sprintf("%s:%s", consts.KeyBroadcast, requester)
}

func OfferKey(requester, offerID string) string {
	return fmt.Sprintf("%s:%s:%s", consts.KeyOffer, requester, offerID)
}

func OfferPattern(requester string) string {
	return fmt.Sprintf("%s:%s:*", consts.KeyOffer, requester)
}

func ContractKey(contractID string) string {
	return fmt.Sprintf("%s:%s", consts.KeyContract, contractID)
}

func NotificationKey(requester string) string {
	return fmt.Sprintf("%s:%s", consts.KeyNotification, requester)
}

func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// GetJSON decodes the value at key into v and reports whether it was found.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}
