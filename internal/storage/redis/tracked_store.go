package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/goodtune/tabtime/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	removeDay    = redis.NewScript(removeDayScript)
	clearTracked = redis.NewScript(clearTrackedScript)
)

type trackedStore struct {
	client *redis.Client
	keys   keyspace
}

// GetAll returns every persisted day
func (s *trackedStore) GetAll(ctx context.Context) (storage.TrackedData, error) {
	days, err := s.Days(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetDays(ctx, days...)
}

// GetDays returns the persisted pages for the given days
func (s *trackedStore) GetDays(ctx context.Context, days ...string) (storage.TrackedData, error) {
	data := make(storage.TrackedData)
	if len(days) == 0 {
		return data, nil
	}

	// First round trip: hostnames per day
	pipe := s.client.Pipeline()
	hostCmds := make([]*redis.StringSliceCmd, len(days))
	for i, day := range days {
		hostCmds[i] = pipe.SMembers(ctx, s.keys.hosts(day))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}

	type pageRef struct {
		day  string
		host string
		cmd  *redis.MapStringStringCmd
	}

	// Second round trip: page hashes per (day, host)
	pipe = s.client.Pipeline()
	refs := make([]pageRef, 0)
	for i, day := range days {
		hosts, err := hostCmds[i].Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to list hosts for %s: %w", day, err)
		}
		for _, host := range hosts {
			refs = append(refs, pageRef{day: day, host: host, cmd: pipe.HGetAll(ctx, s.keys.pages(day, host))})
		}
	}
	if len(refs) == 0 {
		return data, nil
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read pages: %w", err)
	}

	for _, ref := range refs {
		fields, err := ref.cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read pages for %s/%s: %w", ref.day, ref.host, err)
		}
		for key, raw := range fields {
			var page storage.PageData
			if err := json.Unmarshal([]byte(raw), &page); err != nil {
				return nil, fmt.Errorf("failed to parse page %s/%s%s: %w", ref.day, ref.host, key, err)
			}
			data.Put(ref.day, ref.host, key, page)
		}
	}

	return data, nil
}

// Days lists the persisted day buckets
func (s *trackedStore) Days(ctx context.Context) ([]string, error) {
	days, err := s.client.SMembers(ctx, s.keys.days()).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}
	sort.Strings(days)
	return days, nil
}

// Set overwrites every page present in data inside a single MULTI/EXEC
func (s *trackedStore) Set(ctx context.Context, data storage.TrackedData) error {
	if len(data) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for day, hosts := range data {
		pipe.SAdd(ctx, s.keys.days(), day)
		for host, pages := range hosts {
			if len(pages) == 0 {
				continue
			}
			fields := make([]interface{}, 0, len(pages)*2)
			for key, page := range pages {
				raw, err := json.Marshal(page)
				if err != nil {
					return fmt.Errorf("failed to encode page %s/%s%s: %w", day, host, key, err)
				}
				fields = append(fields, key, string(raw))
			}
			pipe.SAdd(ctx, s.keys.hosts(day), host)
			pipe.HSet(ctx, s.keys.pages(day, host), fields...)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write pages: %w", err)
	}
	return nil
}

// Remove deletes a whole day bucket
func (s *trackedStore) Remove(ctx context.Context, day string) error {
	keys := []string{s.keys.days(), s.keys.hosts(day)}
	args := []interface{}{day, s.keys.pages(day, "")}

	return removeDay.Run(ctx, s.client, keys, args...).Err()
}

// Clear erases all persisted records
func (s *trackedStore) Clear(ctx context.Context) error {
	keys := []string{s.keys.days()}
	args := []interface{}{s.keys.prefix}

	return clearTracked.Run(ctx, s.client, keys, args...).Err()
}
