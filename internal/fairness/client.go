package fairness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome of the atomic allocation decision.
type Outcome string

const (
	OutcomeSuccess   Outcome = "OK"
	OutcomeDuplicate Outcome = "DUPLICATE"
	OutcomeSoldOut   Outcome = "SOLD_OUT"
)

var (
	// ErrStoreUnavailable wraps transport and script failures. Callers must
	// treat it as indeterminate, never as SOLD_OUT.
	ErrStoreUnavailable = errors.New("fairness store unavailable")
	ErrMalformedReply   = errors.New("malformed allocation reply")
)

// AllocateResult is the store's verdict on one acquisition attempt.
// Position and RemainingStock are only meaningful on OutcomeSuccess.
type AllocateResult struct {
	Outcome        Outcome
	Position       int64 // 1-indexed rank in the arrival queue
	RemainingStock int64 // post-decrement counter value
}

// Entry is one member of an item's arrival queue.
type Entry struct {
	RequesterID string
	ArrivalAt   time.Time
}

// Client talks to the Redis fairness store. All allocation-affecting writes
// go through single Lua scripts; the read helpers are best-effort and must
// never gate an allocation decision.
type Client struct {
	rdb  *redis.Client
	keys keys
}

type Option func(*Client)

// WithKeyPrefix overrides the default "slot" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *Client) { c.keys = newKeys(prefix) }
}

func NewClient(rdb *redis.Client, opts ...Option) *Client {
	c := &Client{
		rdb:  rdb,
		keys: newKeys("slot"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allocate runs the atomic allocation decision for one requester. The call
// either completes or errors; an error is indeterminate and must surface as
// an infrastructure failure, not be retried as a fresh attempt.
func (c *Client) Allocate(ctx context.Context, itemID, requesterID string, arrivalAt time.Time, guardTTL time.Duration) (AllocateResult, error) {
	reply, err := allocateScript.Run(ctx, c.rdb,
		[]string{c.keys.stock(itemID), c.keys.queue(itemID), c.keys.guard(itemID, requesterID)},
		requesterID, arrivalAt.UnixMilli(), guardTTL.Milliseconds(),
	).Result()
	if err != nil {
		return AllocateResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return parseAllocateReply(reply)
}

// parseAllocateReply decodes the {status, position, remaining} table the
// allocate script returns.
func parseAllocateReply(reply any) (AllocateResult, error) {
	arr, ok := reply.([]any)
	if !ok || len(arr) != 3 {
		return AllocateResult{}, fmt.Errorf("%w: %v", ErrMalformedReply, reply)
	}
	status, ok := arr[0].(string)
	if !ok {
		return AllocateResult{}, fmt.Errorf("%w: non-string status %v", ErrMalformedReply, arr[0])
	}
	pos, err := toInt64(arr[1])
	if err != nil {
		return AllocateResult{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	remaining, err := toInt64(arr[2])
	if err != nil {
		return AllocateResult{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	switch Outcome(status) {
	case OutcomeSuccess, OutcomeDuplicate, OutcomeSoldOut:
		return AllocateResult{Outcome: Outcome(status), Position: pos, RemainingStock: remaining}, nil
	default:
		return AllocateResult{}, fmt.Errorf("%w: unknown status %q", ErrMalformedReply, status)
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

// Reclaim atomically removes one candidate from the queue, clears its
// guard, and returns its stock unit. Idempotent: returns false when the
// candidate was already reclaimed or consumed.
func (c *Client) Reclaim(ctx context.Context, itemID, requesterID string) (bool, error) {
	n, err := reclaimScript.Run(ctx, c.rdb,
		[]string{
			c.keys.stock(itemID),
			c.keys.queue(itemID),
			c.keys.guard(itemID, requesterID),
			c.keys.warned(itemID, requesterID),
		},
		requesterID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// Consume removes a completed slot's queue entry and guard without
// returning stock.
func (c *Client) Consume(ctx context.Context, itemID, requesterID string) (bool, error) {
	n, err := consumeScript.Run(ctx, c.rdb,
		[]string{
			c.keys.queue(itemID),
			c.keys.guard(itemID, requesterID),
			c.keys.warned(itemID, requesterID),
		},
		requesterID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// SeedStock initializes an item's counter and registers it in the item
// index so the reclaimer scans it. Existing counters are overwritten; this
// runs once at item registration, not on the serving path.
func (c *Client) SeedStock(ctx context.Context, itemID string, stock int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.keys.stock(itemID), stock, 0)
	pipe.SAdd(ctx, c.keys.itemIndex(), itemID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Restore re-inserts a queue entry and guard rebuilt from the ledger, used
// by the reconciliation pass when the volatile store lost state. guardTTL
// is the remaining lifetime, not the full one.
func (c *Client) Restore(ctx context.Context, itemID, requesterID string, arrivalAt time.Time, guardTTL time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.ZAdd(ctx, c.keys.queue(itemID), redis.Z{Score: float64(arrivalAt.UnixMilli()), Member: requesterID})
	pipe.Set(ctx, c.keys.guard(itemID, requesterID), arrivalAt.UnixMilli(), guardTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// MarkWarned records that a pre-expiry warning was emitted for the pair.
// Returns true the first time only; the marker carries ttl so it cannot
// outlive the slot by much.
func (c *Client) MarkWarned(ctx context.Context, itemID, requesterID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.keys.warned(itemID, requesterID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Items lists item ids with seeded stock, for the reclaimer scan.
func (c *Client) Items(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, c.keys.itemIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

// Stock reads an item's current counter. Best-effort.
func (c *Client) Stock(ctx context.Context, itemID string) (int64, error) {
	n, err := c.rdb.Get(ctx, c.keys.stock(itemID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Position reads a requester's 1-indexed rank in an item's queue.
// Best-effort; returns 0 when absent.
func (c *Client) Position(ctx context.Context, itemID, requesterID string) (int64, error) {
	rank, err := c.rdb.ZRank(ctx, c.keys.queue(itemID), requesterID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rank + 1, nil
}

// QueueSize reads the number of queue members for an item. Best-effort.
func (c *Client) QueueSize(ctx context.Context, itemID string) (int64, error) {
	n, err := c.rdb.ZCard(ctx, c.keys.queue(itemID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// HasGuard reports whether the duplicate guard for the pair is set. Used
// only as a pre-check optimization, never as the correctness gate.
func (c *Client) HasGuard(ctx context.Context, itemID, requesterID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.keys.guard(itemID, requesterID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// Dump returns an item's full arrival ordering, for audit verification.
func (c *Client) Dump(ctx context.Context, itemID string) ([]Entry, error) {
	zs, err := c.rdb.ZRangeWithScores(ctx, c.keys.queue(itemID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return entriesFromZ(zs), nil
}

// ExpiredBefore lists queue members whose arrival is at or before cutoff.
func (c *Client) ExpiredBefore(ctx context.Context, itemID string, cutoff time.Time) ([]Entry, error) {
	zs, err := c.rdb.ZRangeByScoreWithScores(ctx, c.keys.queue(itemID), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return entriesFromZ(zs), nil
}

// ExpiringBetween lists queue members whose arrival falls in (from, to],
// i.e. slots inside the pre-expiry warning window.
func (c *Client) ExpiringBetween(ctx context.Context, itemID string, from, to time.Time) ([]Entry, error) {
	zs, err := c.rdb.ZRangeByScoreWithScores(ctx, c.keys.queue(itemID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return entriesFromZ(zs), nil
}

func entriesFromZ(zs []redis.Z) []Entry {
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			RequesterID: member,
			ArrivalAt:   time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return entries
}
