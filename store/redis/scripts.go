package redis

import "github.com/redis/go-redis/v9"

// Guarded scripts reply "ok", "ok:<state>", "missing" or "stale:<state>".

// fetchScript claims the earliest claimable job across the given names.
//
// KEYS: queue and running keys, interleaved per name.
// ARGV: now ms, lock timeout ms, worker id, now string, job key prefix.
var fetchScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local cutoff = now - tonumber(ARGV[2])
local prefix = ARGV[5]
local best, bestScore, bestSrc, bestRunning

for i = 1, #KEYS, 2 do
	local q, r = KEYS[i], KEYS[i + 1]

	local stalled = redis.call('ZRANGEBYSCORE', r, '-inf', cutoff)
	for _, jid in ipairs(stalled) do
		local k = prefix .. jid
		local attempts = tonumber(redis.call('HGET', k, 'attempts'))
		local maxAttempts = tonumber(redis.call('HGET', k, 'max_attempts'))
		if attempts >= maxAttempts then
			redis.call('HSET', k, 'state', 'killed',
				'last_error', 'lock expired with no attempts left',
				'done_at', ARGV[4], 'updated_at', ARGV[4])
			redis.call('ZREM', r, jid)
		else
			local runAt = tonumber(redis.call('HGET', k, 'run_at_ms'))
			if best == nil or runAt < bestScore or (runAt == bestScore and jid < best) then
				best, bestScore, bestSrc, bestRunning = jid, runAt, r, r
			end
		end
	end

	local head = redis.call('ZRANGEBYSCORE', q, '-inf', now, 'WITHSCORES', 'LIMIT', 0, 1)
	if #head > 0 then
		local score = tonumber(head[2])
		if best == nil or score < bestScore or (score == bestScore and head[1] < best) then
			best, bestScore, bestSrc, bestRunning = head[1], score, q, r
		end
	end
end

if best == nil then
	return false
end

local k = prefix .. best
redis.call('ZREM', bestSrc, best)
redis.call('ZADD', bestRunning, now, best)
redis.call('HINCRBY', k, 'attempts', 1)
redis.call('HSET', k, 'state', 'running', 'lock_by', ARGV[3],
	'lock_at', ARGV[4], 'updated_at', ARGV[4])
return best
`)

// guard is shared by every transition on a held job.
//
// KEYS[1]: job key. ARGV[1]: worker id, empty to skip the holder check.
const guard = `
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return 'missing'
end
if state ~= 'running' or (ARGV[1] ~= '' and redis.call('HGET', KEYS[1], 'lock_by') ~= ARGV[1]) then
	return 'stale:' .. state
end
local jid = redis.call('HGET', KEYS[1], 'id')
local name = redis.call('HGET', KEYS[1], 'name')
`

// ackScript moves a held job to done.
//
// ARGV: worker id, now string, key prefix.
var ackScript = redis.NewScript(guard + `
redis.call('HSET', KEYS[1], 'state', 'done', 'done_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('ZREM', ARGV[3] .. 'running:' .. name, jid)
return 'ok'
`)

// retryScript releases a held job or kills it when attempts are exhausted.
//
// ARGV: worker id, now string, key prefix, retry state, run_at ms,
// run_at string, fault.
var retryScript = redis.NewScript(guard + `
redis.call('ZREM', ARGV[3] .. 'running:' .. name, jid)
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts'))
local maxAttempts = tonumber(redis.call('HGET', KEYS[1], 'max_attempts'))
if attempts >= maxAttempts then
	redis.call('HSET', KEYS[1], 'state', 'killed', 'last_error', ARGV[7],
		'done_at', ARGV[2], 'updated_at', ARGV[2])
	return 'ok:killed'
end
redis.call('HSET', KEYS[1], 'state', ARGV[4], 'run_at', ARGV[6], 'run_at_ms', ARGV[5],
	'lock_by', '', 'lock_at', '', 'last_error', ARGV[7], 'updated_at', ARGV[2])
redis.call('ZADD', ARGV[3] .. 'queue:' .. name, tonumber(ARGV[5]), jid)
return 'ok:' .. ARGV[4]
`)

// killScript moves a running job to killed.
//
// ARGV: worker id or empty, now string, key prefix, reason.
var killScript = redis.NewScript(guard + `
redis.call('HSET', KEYS[1], 'state', 'killed', 'last_error', ARGV[4],
	'done_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('ZREM', ARGV[3] .. 'running:' .. name, jid)
return 'ok'
`)

// heartbeatScript renews the lock of a held job.
//
// ARGV: worker id, now string, key prefix, now ms.
var heartbeatScript = redis.NewScript(guard + `
redis.call('HSET', KEYS[1], 'lock_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('ZADD', ARGV[3] .. 'running:' .. name, 'XX', tonumber(ARGV[4]), jid)
return 'ok'
`)

var scripts = []*redis.Script{fetchScript, ackScript, retryScript, killScript, heartbeatScript}
