// Package kv wraps the shared ephemeral key-value store backing the hit
// window, the warm lock, rate buckets, weekly metrics and cached dashboard
// figures. Every entry carries its own TTL; expiry is handled by the engine.
// The two atomic primitives the rest of the system depends on are
// AddIfAbsent (warm lock) and Update (upsert for counters and averages).
package kv

import (
	"errors"
	"time"
)

// ErrNotFound 表示键不存在或已过期。
var ErrNotFound = errors.New("kv entry not found")

// ErrExists 表示 AddIfAbsent 遇到了未过期的既有键，典型场景是锁竞争。
var ErrExists = errors.New("kv entry already exists")

// Store 是进程间共享的临时 KV 抽象。
type Store interface {
	// Get 返回键的当前值；不存在或已过期返回 ErrNotFound。
	Get(key string) ([]byte, error)

	// Set 写入键值并附带 TTL；ttl<=0 表示不过期。
	Set(key string, value []byte, ttl time.Duration) error

	// Delete 删除键；键不存在不报错。
	Delete(key string) error

	// AddIfAbsent 原子地 “不存在才写入”，既有未过期键返回 ErrExists。
	AddIfAbsent(key string, value []byte, ttl time.Duration) error

	// Update 原子地读 - 改 - 写：fn 收到旧值（不存在时为 nil），返回新值。
	// 并发冲突时整个事务重试，调用方的 fn 必须幂等。
	Update(key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) error

	// Close 释放底层引擎资源。
	Close() error
}
