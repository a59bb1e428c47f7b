package kv

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// badgerStore 基于嵌入式 BadgerDB 实现 Store。Serializable 事务天然提供
// “insert if absent” 与 upsert 的原子性，条目 TTL 由引擎自动回收。
type badgerStore struct {
	db *badger.DB
}

// Open 在指定目录打开持久化存储；path 为空时使用纯内存模式（测试与
// 无持久化需求的部署）。
func Open(path string) (Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
		opts.ValueLogFileSize = 16 << 20
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ephemeral store: %w", err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *badgerStore) Set(key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entryWithTTL(key, value, ttl))
	})
}

func (s *badgerStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *badgerStore) AddIfAbsent(key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return ErrExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(entryWithTTL(key, value, ttl))
	})
	// 事务冲突说明另一个写者抢先插入，对调用方同样是 “已存在”。
	if errors.Is(err, badger.ErrConflict) {
		return ErrExists
	}
	return err
}

func (s *badgerStore) Update(key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) error {
	for {
		err := s.db.Update(func(txn *badger.Txn) error {
			var old []byte
			item, err := txn.Get([]byte(key))
			switch {
			case err == nil:
				old, err = item.ValueCopy(nil)
				if err != nil {
					return err
				}
			case errors.Is(err, badger.ErrKeyNotFound):
				old = nil
			default:
				return err
			}

			next, err := fn(old)
			if err != nil {
				return err
			}
			return txn.SetEntry(entryWithTTL(key, next, ttl))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}

func entryWithTTL(key string, value []byte, ttl time.Duration) *badger.Entry {
	entry := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return entry
}
