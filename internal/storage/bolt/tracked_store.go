package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/tabtime/internal/storage"
	"go.etcd.io/bbolt"
)

type trackedStore struct {
	db *bbolt.DB
}

func (s *trackedStore) GetAll(ctx context.Context) (storage.TrackedData, error) {
	data := make(storage.TrackedData)
	return data, s.db.View(func(tx *bbolt.Tx) error {
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		return root.ForEachBucket(func(day []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return readDay(root.Bucket(day), string(day), data)
		})
	})
}

func (s *trackedStore) GetDays(ctx context.Context, days ...string) (storage.TrackedData, error) {
	data := make(storage.TrackedData)
	return data, s.db.View(func(tx *bbolt.Tx) error {
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		for _, day := range days {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			bucket := root.Bucket([]byte(day))
			if bucket == nil {
				continue
			}
			if err := readDay(bucket, day, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *trackedStore) Days(ctx context.Context) ([]string, error) {
	days := make([]string, 0)
	return days, s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		// Bucket keys iterate in byte order, which is chronological for days.
		return root.ForEachBucket(func(day []byte) error {
			days = append(days, string(day))
			return nil
		})
	})
}

func (s *trackedStore) Set(ctx context.Context, data storage.TrackedData) error {
	if len(data) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		for day, hosts := range data {
			dayBucket, err := root.CreateBucketIfNotExists([]byte(day))
			if err != nil {
				return fmt.Errorf("create day bucket %s: %w", day, err)
			}
			for host, pages := range hosts {
				hostBucket, err := dayBucket.CreateBucketIfNotExists([]byte(host))
				if err != nil {
					return fmt.Errorf("create host bucket %s/%s: %w", day, host, err)
				}
				for key, page := range pages {
					value, err := marshal(page)
					if err != nil {
						return err
					}
					if err := hostBucket.Put([]byte(key), value); err != nil {
						return fmt.Errorf("put page %s/%s%s: %w", day, host, key, err)
					}
				}
			}
		}
		return nil
	})
}

func (s *trackedStore) Remove(ctx context.Context, day string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		root, err := rootBucket(tx)
		if err != nil {
			return err
		}
		if root.Bucket([]byte(day)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(day))
	})
}

func (s *trackedStore) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tx.Bucket([]byte(bucketTracked)) != nil {
			if err := tx.DeleteBucket([]byte(bucketTracked)); err != nil {
				return fmt.Errorf("delete bucket %s: %w", bucketTracked, err)
			}
		}
		_, err := tx.CreateBucket([]byte(bucketTracked))
		return err
	})
}

func readDay(dayBucket *bbolt.Bucket, day string, data storage.TrackedData) error {
	return dayBucket.ForEachBucket(func(host []byte) error {
		hostBucket := dayBucket.Bucket(host)
		return hostBucket.ForEach(func(key, value []byte) error {
			var page storage.PageData
			if err := unmarshal(value, &page); err != nil {
				return err
			}
			data.Put(day, string(host), string(key), page)
			return nil
		})
	})
}
