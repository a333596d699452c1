package valkey

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Every write touching more than one key runs as a script, so readers never
// observe an event without its index entry or a session without its user set.

// luaCompareAndSwap stores a JSON document only if the version stored under
// the key still matches the version the caller read. This is what makes the
// sliding-window check atomic across replicas: two concurrent checks of the
// same window cannot both commit.
//
// KEYS[1] = document key
// KEYS[2] = optional index ZSET
// ARGV[1] = expected version (0 means the key must not exist)
// ARGV[2] = new JSON document
// ARGV[3] = index score (only with KEYS[2])
// ARGV[4] = index member (only with KEYS[2])
//
// Returns 1 when stored, 0 when the version changed.
const luaCompareAndSwap = `
local current = redis.call('GET', KEYS[1])
local expected = tonumber(ARGV[1])
if current then
    if tonumber(cjson.decode(current).version) ~= expected then
        return 0
    end
elseif expected ~= 0 then
    return 0
end

redis.call('SET', KEYS[1], ARGV[2])
if KEYS[2] then
    redis.call('ZADD', KEYS[2], 'NX', ARGV[3], ARGV[4])
end
return 1
`

// luaDeleteIndexedBefore removes up to ARGV[3] documents whose index score is
// below ARGV[1], together with their index entries.
//
// KEYS[1] = index ZSET (members are document key suffixes)
// ARGV[1] = exclusive score bound
// ARGV[2] = document key prefix
// ARGV[3] = batch size
//
// Returns the number of removed entries.
const luaDeleteIndexedBefore = `
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, m in ipairs(members) do
    redis.call('DEL', ARGV[2] .. m)
    redis.call('ZREM', KEYS[1], m)
end
return #members
`

// luaAppendAuditEvent writes an audit event and indexes it by occurrence time.
// Index members are "{20 digit sequence}:{id}", so events sharing a
// millisecond keep their append order.
//
// KEYS[1] = event key
// KEYS[2] = index ZSET
// KEYS[3] = id -> member HASH
// KEYS[4] = sequence counter
// ARGV[1] = event JSON
// ARGV[2] = occurrence time in Unix milliseconds
// ARGV[3] = event ID
//
// Returns 1 when stored, 0 when the ID already exists.
const luaAppendAuditEvent = `
if redis.call('HEXISTS', KEYS[3], ARGV[3]) == 1 then
    return 0
end
local seq = redis.call('INCR', KEYS[4])
local member = string.format('%020d', seq) .. ':' .. ARGV[3]
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[3], member)
redis.call('ZADD', KEYS[2], ARGV[2], member)
return 1
`

// luaListAuditEvents returns event documents newest first.
//
// KEYS[1] = index ZSET
// KEYS[2] = id -> member HASH
// ARGV[1] = ID of the last event of the previous page, or ''
// ARGV[2] = page size, 0 for all
// ARGV[3] = event key prefix
//
// Returns nil when the cursor is unknown.
const luaListAuditEvents = `
local start = 0
if ARGV[1] ~= '' then
    local member = redis.call('HGET', KEYS[2], ARGV[1])
    if not member then
        return false
    end
    local rank = redis.call('ZREVRANK', KEYS[1], member)
    if not rank then
        return false
    end
    start = rank + 1
end

local stop = -1
local limit = tonumber(ARGV[2])
if limit > 0 then
    stop = start + limit - 1
end

local out = {}
for _, member in ipairs(redis.call('ZREVRANGE', KEYS[1], start, stop)) do
    local data = redis.call('GET', ARGV[3] .. string.sub(member, 22))
    if data then
        table.insert(out, data)
    end
end
return out
`

// luaArchiveAuditEvents moves up to ARGV[2] events older than ARGV[1] into the
// archive list. Each event is copied before it is deleted.
//
// KEYS[1] = index ZSET
// KEYS[2] = id -> member HASH
// KEYS[3] = archive LIST
// ARGV[1] = exclusive cutoff in Unix milliseconds
// ARGV[2] = batch size
// ARGV[3] = event key prefix
//
// Returns {index entries processed, events archived}.
const luaArchiveAuditEvents = `
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local archived = 0
for _, member in ipairs(members) do
    local id = string.sub(member, 22)
    local key = ARGV[3] .. id
    local data = redis.call('GET', key)
    if data then
        redis.call('RPUSH', KEYS[3], data)
        redis.call('DEL', key)
        archived = archived + 1
    end
    redis.call('HDEL', KEYS[2], id)
    redis.call('ZREM', KEYS[1], member)
end
return {#members, archived}
`

// luaInsertMenuItems stores menu items if none of their IDs is taken, and
// appends them to the insertion-ordered index.
//
// KEYS[1] = index ZSET
// KEYS[2] = sequence counter
// KEYS[3..n] = item keys
// ARGV[2i-1], ARGV[2i] = item JSON and item ID of KEYS[i+2]
//
// Returns 1 when stored, 0 when an ID is taken.
const luaInsertMenuItems = `
for i = 3, #KEYS do
    if redis.call('EXISTS', KEYS[i]) == 1 then
        return 0
    end
end
for i = 3, #KEYS do
    local j = (i - 3) * 2
    local seq = redis.call('INCR', KEYS[2])
    redis.call('SET', KEYS[i], ARGV[j + 1])
    redis.call('ZADD', KEYS[1], seq, ARGV[j + 2])
end
return 1
`

// luaListIndexed returns the documents of an index in ascending score order.
//
// KEYS[1] = index ZSET
// ARGV[1] = document key prefix
const luaListIndexed = `
local out = {}
for _, m in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
    local data = redis.call('GET', ARGV[1] .. m)
    if data then
        table.insert(out, data)
    end
end
return out
`

// luaDeleteIndexed removes a document and its index entry.
//
// KEYS[1] = document key
// KEYS[2] = index ZSET
// ARGV[1] = index member
const luaDeleteIndexed = `
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`

// luaSaveSession stores a session with a TTL and registers it in the set of
// its user, moving it out of the previous owner's set if the ID is reused.
//
// KEYS[1] = session key
// KEYS[2] = user session SET
// ARGV[1] = session JSON
// ARGV[2] = TTL in milliseconds
// ARGV[3] = session ID
// ARGV[4] = user session SET prefix
const luaSaveSession = `
local old = redis.call('GET', KEYS[1])
if old then
    redis.call('SREM', ARGV[4] .. cjson.decode(old).user_id, ARGV[3])
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return 1
`

// luaTouchSession sets last_seen_at and renews the TTL.
//
// KEYS[1] = session key
// ARGV[1] = last seen time in Unix milliseconds
// ARGV[2] = TTL in milliseconds
//
// Returns 0 when the session does not exist.
const luaTouchSession = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 0
end
local session = cjson.decode(data)
session.last_seen_at = ARGV[1]
redis.call('SET', KEYS[1], cjson.encode(session), 'PX', ARGV[2])
return 1
`

// luaDeleteSession removes a session and its entry in the user set.
//
// KEYS[1] = session key
// ARGV[1] = session ID
// ARGV[2] = user session SET prefix
const luaDeleteSession = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 0
end
redis.call('SREM', ARGV[2] .. cjson.decode(data).user_id, ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`

// luaDeleteUserSessions removes every session of a user.
//
// KEYS[1] = user session SET
// ARGV[1] = session key prefix
//
// Returns the number of sessions that still existed.
const luaDeleteUserSessions = `
local n = 0
for _, id in ipairs(redis.call('SMEMBERS', KEYS[1])) do
    n = n + redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return n
`
