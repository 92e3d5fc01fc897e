package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RaffleCore/internal/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TxnCache is a read-through Redis cache for transaction lookups, used on the
// webhook path where the same transaction can be fetched many times in a
// burst of duplicate deliveries. A nil *TxnCache is valid and disables
// caching, so callers never branch on whether Redis is configured.
type TxnCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewTxnCache(rdb *redis.Client, ttl time.Duration) *TxnCache {
	if rdb == nil {
		return nil
	}
	return &TxnCache{rdb: rdb, ttl: ttl}
}

func txnKey(id uuid.UUID) string {
	return "raffle:txn:" + id.String()
}

// Get returns the cached transaction, or (nil, nil) on a miss. Redis errors
// are treated as misses; the store is the source of truth.
func (c *TxnCache) Get(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := c.rdb.Get(ctx, txnKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, nil
	}
	var txn model.Transaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		return nil, fmt.Errorf("decode cached transaction: %w", err)
	}
	return &txn, nil
}

// Put stores the transaction with the configured TTL. Failures are ignored.
func (c *TxnCache) Put(ctx context.Context, txn *model.Transaction) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(txn)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, txnKey(txn.ID), raw, c.ttl)
}

// Invalidate drops the cached entry after a status change.
func (c *TxnCache) Invalidate(ctx context.Context, id uuid.UUID) {
	if c == nil {
		return
	}
	c.rdb.Del(ctx, txnKey(id))
}
