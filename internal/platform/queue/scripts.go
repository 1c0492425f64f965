package queue

import "github.com/redis/go-redis/v9"

// KEYS: job, wait, delayed, failed
// ARGV: id, name, payload, maxAttempts, backoffMs, readyAtMs (0 = now), nowMs, replace, rerun
// Returns 1 added, 2 replaced, 3 deferred behind the active run, 0 duplicate.
var enqueueScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'active' then
  if ARGV[8] == '1' or ARGV[9] == '1' then
    redis.call('HSET', KEYS[1], 'nextName', ARGV[2], 'nextPayload', ARGV[3], 'nextReadyAt', ARGV[6])
    return 3
  end
  return 0
end
if state == 'waiting' or state == 'delayed' then
  if ARGV[8] == '1' then
    redis.call('HSET', KEYS[1], 'payload', ARGV[3], 'name', ARGV[2])
    return 2
  end
  return 0
end
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('DEL', KEYS[1])
local initial = 'waiting'
if ARGV[6] ~= '0' then
  initial = 'delayed'
end
redis.call('HSET', KEYS[1],
  'name', ARGV[2], 'payload', ARGV[3], 'attempts', '0', 'maxAttempts', ARGV[4],
  'backoffMs', ARGV[5], 'state', initial, 'createdAt', ARGV[7], 'lastError', '')
if initial == 'delayed' then
  redis.call('ZADD', KEYS[3], ARGV[6], ARGV[1])
else
  redis.call('LPUSH', KEYS[2], ARGV[1])
end
return 1
`)

// KEYS: job, wait, delayed
// ARGV: id
var cancelScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'waiting' then
  redis.call('LREM', KEYS[2], 0, ARGV[1])
elseif state == 'delayed' then
  redis.call('ZREM', KEYS[3], ARGV[1])
else
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS: job, lock, stalled, active
// ARGV: id, token, lockMs, nowMs
var startScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('LREM', KEYS[4], 0, ARGV[1])
  return false
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HSET', KEYS[1], 'state', 'active', 'processedOn', ARGV[4])
return redis.call('HGETALL', KEYS[1])
`)

// KEYS: lock
// ARGV: token, lockMs
var extendLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// rearmFollowUp turns a finished job into its deferred follow-up run, if
// one was queued while it was active.
const rearmFollowUp = `
local function rearm(jobKey, id, waitKey, delayedKey, nowMs)
  local follow = redis.call('HMGET', jobKey, 'nextName', 'nextPayload', 'nextReadyAt')
  if not follow[2] then
    return false
  end
  redis.call('HDEL', jobKey, 'nextName', 'nextPayload', 'nextReadyAt', 'processedOn')
  redis.call('HSET', jobKey, 'name', follow[1], 'payload', follow[2], 'attempts', '0', 'createdAt', nowMs)
  if tonumber(follow[3]) > tonumber(nowMs) then
    redis.call('HSET', jobKey, 'state', 'delayed')
    redis.call('ZADD', delayedKey, follow[3], id)
  else
    redis.call('HSET', jobKey, 'state', 'waiting')
    redis.call('LPUSH', waitKey, id)
  end
  return true
end
`

// KEYS: active, job, lock, wait, delayed
// ARGV: id, token, nowMs
// Returns 1 done, 2 follow-up queued, 0 lock lost.
var completeScript = redis.NewScript(rearmFollowUp + `
if redis.call('GET', KEYS[3]) ~= ARGV[2] then
  return 0
end
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('DEL', KEYS[3])
if rearm(KEYS[2], ARGV[1], KEYS[4], KEYS[5], ARGV[3]) then
  return 2
end
redis.call('DEL', KEYS[2])
return 1
`)

// KEYS: active, job, lock, delayed, failed, wait
// ARGV: id, token, nowMs, error, retry, readyAtMs
// Returns 1 scheduled for retry, 2 failed, 3 superseded by a follow-up run, -1 lock lost.
var failScript = redis.NewScript(rearmFollowUp + `
if redis.call('GET', KEYS[3]) ~= ARGV[2] then
  return -1
end
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('DEL', KEYS[3])
if rearm(KEYS[2], ARGV[1], KEYS[6], KEYS[4], ARGV[3]) then
  redis.call('HSET', KEYS[2], 'lastError', ARGV[4])
  return 3
end
if ARGV[5] == '1' then
  redis.call('HSET', KEYS[2], 'state', 'delayed', 'lastError', ARGV[4])
  redis.call('ZADD', KEYS[4], ARGV[6], ARGV[1])
  return 1
end
redis.call('HSET', KEYS[2], 'state', 'failed', 'lastError', ARGV[4], 'failedAt', ARGV[3])
redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
return 2
`)

// KEYS: delayed, wait
// ARGV: nowMs, jobKeyPrefix, limit
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  if redis.call('EXISTS', ARGV[2] .. id) == 1 then
    redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
    redis.call('LPUSH', KEYS[2], id)
  end
end
return #ids
`)

// Jobs seen in the active list on the previous pass that still have no
// lock are moved back to the head of the wait list.
// KEYS: active, stalled, wait
// ARGV: lockKeyPrefix, jobKeyPrefix
var stalledScript = redis.NewScript(`
local requeued = 0
local suspects = redis.call('SMEMBERS', KEYS[2])
for _, id in ipairs(suspects) do
  if redis.call('EXISTS', ARGV[1] .. id) == 0 then
    if redis.call('LREM', KEYS[1], 0, id) > 0 and redis.call('EXISTS', ARGV[2] .. id) == 1 then
      redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
      redis.call('RPUSH', KEYS[3], id)
      requeued = requeued + 1
    end
  end
end
redis.call('DEL', KEYS[2])
local active = redis.call('LRANGE', KEYS[1], 0, -1)
for _, id in ipairs(active) do
  if redis.call('EXISTS', ARGV[1] .. id) == 0 then
    redis.call('SADD', KEYS[2], id)
  end
end
return requeued
`)

// KEYS: job, wait, failed
// ARGV: id
var retryFailedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') ~= 'failed' then
  return 0
end
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[1], 'state', 'waiting', 'attempts', '0', 'lastError', '')
redis.call('HDEL', KEYS[1], 'failedAt')
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)
