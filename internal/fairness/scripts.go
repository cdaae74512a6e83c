package fairness

import "github.com/redis/go-redis/v9"

// allocateScript is the single atomic allocation decision. Everything the
// admission path depends on for correctness happens inside this one script:
// duplicate guard check, stock check, decrement, queue insert, guard set.
// A split check-then-act over separate round trips would reopen the window
// where two callers both observe stock > 0.
//
// KEYS[1] stock counter, KEYS[2] arrival queue, KEYS[3] duplicate guard.
// ARGV[1] requester id, ARGV[2] arrival ms, ARGV[3] guard TTL ms.
// Returns {status, 1-indexed position, remaining stock}.
//
// Equal arrival timestamps order lexicographically by requester id (ZSET
// same-score semantics); sub-millisecond fairness is not promised.
var allocateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 1 then
  return {"DUPLICATE", 0, 0}
end
local stock = tonumber(redis.call("GET", KEYS[1]))
if not stock or stock <= 0 then
  return {"SOLD_OUT", 0, 0}
end
local remaining = redis.call("DECR", KEYS[1])
redis.call("ZADD", KEYS[2], tonumber(ARGV[2]), ARGV[1])
redis.call("SET", KEYS[3], ARGV[2], "PX", ARGV[3])
local rank = redis.call("ZRANK", KEYS[2], ARGV[1])
return {"OK", rank + 1, remaining}
`)

// reclaimScript returns one candidate's stock and tears down its state.
// ZREM gates the whole operation: a rerun over an already-reclaimed
// candidate removes nothing and must not touch the counter, which is what
// makes overlapping reclaimer runs safe.
//
// KEYS[1] stock counter, KEYS[2] arrival queue, KEYS[3] duplicate guard,
// KEYS[4] warning marker. ARGV[1] requester id.
// Returns 1 if reclaimed, 0 if already gone.
var reclaimScript = redis.NewScript(`
local removed = redis.call("ZREM", KEYS[2], ARGV[1])
if removed == 0 then
  return 0
end
redis.call("DEL", KEYS[3])
redis.call("DEL", KEYS[4])
redis.call("INCR", KEYS[1])
return 1
`)

// consumeScript removes a slot's queue entry and guard on completion.
// Stock is not returned: a completed slot has spent its unit. Removing the
// queue entry keeps the reclaimer from expiring a purchased slot later.
//
// KEYS[1] arrival queue, KEYS[2] duplicate guard, KEYS[3] warning marker.
// ARGV[1] requester id. Returns 1 if consumed, 0 if already gone.
var consumeScript = redis.NewScript(`
local removed = redis.call("ZREM", KEYS[1], ARGV[1])
if removed == 0 then
  return 0
end
redis.call("DEL", KEYS[2])
redis.call("DEL", KEYS[3])
return 1
`)
