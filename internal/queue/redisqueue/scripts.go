package redisqueue

import "github.com/redis/go-redis/v9"

// Key layout under a prefix:
//   ready    ZSET  document_id -> available-at (unix ms)
//   msg      HASH  document_id -> pending message JSON
//   inflight ZSET  document_id -> lease deadline (unix ms)
//   lease    HASH  document_id -> "<lease id>|<message JSON>"
// A document is in at most one of ready/msg and one of inflight/lease. A
// message pending for a leased document is scored at the lease deadline so
// it never sits in the dequeue scan window; releasing the lease rescores it.

// KEYS: ready, msg, inflight. ARGV: document_id, body, now.
var enqueueScript = redis.NewScript(`
local score = tonumber(ARGV[3])
local deadline = redis.call('ZSCORE', KEYS[3], ARGV[1])
if deadline and tonumber(deadline) > score then
  score = tonumber(deadline)
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[1], score, ARGV[1])
return 1
`)

// KEYS: ready, msg, inflight, lease. ARGV: now, visibility, lease id, scan limit.
// Expired leases go back to ready unless a newer message is pending, then the
// earliest ready document without a live lease is leased.
var dequeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now)
for _, doc in ipairs(expired) do
  local l = redis.call('HGET', KEYS[4], doc)
  redis.call('ZREM', KEYS[3], doc)
  redis.call('HDEL', KEYS[4], doc)
  if redis.call('HEXISTS', KEYS[2], doc) == 1 then
    redis.call('ZADD', KEYS[1], now, doc)
  elseif l then
    local sep = string.find(l, '|', 1, true)
    redis.call('HSET', KEYS[2], doc, string.sub(l, sep + 1))
    redis.call('ZADD', KEYS[1], now, doc)
  end
end

local ready = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, tonumber(ARGV[4]))
for _, doc in ipairs(ready) do
  local leased = redis.call('ZSCORE', KEYS[3], doc)
  if leased then
    redis.call('ZADD', KEYS[1], leased, doc)
  else
    local body = redis.call('HGET', KEYS[2], doc)
    redis.call('ZREM', KEYS[1], doc)
    redis.call('HDEL', KEYS[2], doc)
    if body then
      local deadline = now + tonumber(ARGV[2])
      redis.call('ZADD', KEYS[3], deadline, doc)
      redis.call('HSET', KEYS[4], doc, ARGV[3] .. '|' .. body)
      return {doc, body, deadline}
    end
  end
end
return false
`)

// KEYS: ready, msg, inflight, lease. ARGV: document_id, lease id, now.
// A message enqueued while the lease was held becomes available now.
var ackScript = redis.NewScript(`
local l = redis.call('HGET', KEYS[4], ARGV[1])
if not l or string.sub(l, 1, #ARGV[2] + 1) ~= ARGV[2] .. '|' then
  return 0
end
local deadline = tonumber(redis.call('ZSCORE', KEYS[3], ARGV[1]))
if not deadline or deadline <= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
  redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
end
return 1
`)

// KEYS: ready, msg, inflight, lease. ARGV: document_id, lease id, now, available-at.
// A message enqueued while the lease was held is kept but not made available
// before available-at.
var nackScript = redis.NewScript(`
local l = redis.call('HGET', KEYS[4], ARGV[1])
if not l or string.sub(l, 1, #ARGV[2] + 1) ~= ARGV[2] .. '|' then
  return 0
end
local deadline = tonumber(redis.call('ZSCORE', KEYS[3], ARGV[1]))
if not deadline or deadline <= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then
  redis.call('HSET', KEYS[2], ARGV[1], string.sub(l, #ARGV[2] + 2))
end
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
return 1
`)

// KEYS: ready, inflight, lease. ARGV: document_id, lease id, now, new deadline.
var extendScript = redis.NewScript(`
local l = redis.call('HGET', KEYS[3], ARGV[1])
if not l or string.sub(l, 1, #ARGV[2] + 1) ~= ARGV[2] .. '|' then
  return 0
end
local deadline = tonumber(redis.call('ZSCORE', KEYS[2], ARGV[1]))
if not deadline or deadline <= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
end
return 1
`)
