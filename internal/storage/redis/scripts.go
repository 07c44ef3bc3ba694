package redis

const (
	// removeDayScript atomically deletes a day bucket and its indexes
	removeDayScript = `
local days_set = KEYS[1]      -- {prefix}:days
local hosts_set = KEYS[2]     -- {prefix}:day:{day}:hosts

local day = ARGV[1]
local page_prefix = ARGV[2]   -- {prefix}:page:{day}:

local hosts = redis.call('SMEMBERS', hosts_set)
for _, host in ipairs(hosts) do
  redis.call('DEL', page_prefix .. host)
end

redis.call('DEL', hosts_set)
redis.call('SREM', days_set, day)

return #hosts
`

	// clearTrackedScript atomically erases every tracked record
	clearTrackedScript = `
local days_set = KEYS[1]      -- {prefix}:days

local prefix = ARGV[1]

local days = redis.call('SMEMBERS', days_set)
for _, day in ipairs(days) do
  local hosts_set = prefix .. ':day:' .. day .. ':hosts'
  local hosts = redis.call('SMEMBERS', hosts_set)
  for _, host in ipairs(hosts) do
    redis.call('DEL', prefix .. ':page:' .. day .. ':' .. host)
  end
  redis.call('DEL', hosts_set)
end

redis.call('DEL', days_set)

return #days
`
)
