package cache

import (
	"errors"
	"time"
)

// Store 负责管理磁盘页面缓存的读写。磁盘布局遵循：
//
//	<CacheRoot>/<host>/<path>/index.html       # 渲染后的页面正文
//	<CacheRoot>/<host>/<path>/index.html.meta  # sidecar 元数据 {created, ttl, content_type}
//
// 条目有效性完全由 sidecar 决定：sidecar 缺失即无条件无效（fail-safe），
// 过期仅在读取时惰性判定，从不主动清扫。
type Store interface {
	// Write 落盘正文与 sidecar，contentType 记录源站响应的 Content-Type，
	// 命中时原样回放。sidecar 写入失败只记日志不报错：
	// 正文已在磁盘上仍有价值，下次读取会因缺少 sidecar 被视为无效。
	Write(entryPath string, payload []byte, ttl time.Duration, contentType string) error

	// Read 返回有效条目的正文与 sidecar 元数据；
	// 文件缺失、sidecar 缺失或已过期时返回 ErrNotFound。
	Read(entryPath string) ([]byte, Meta, error)

	// Exists 仅检查正文文件是否存在，不判断有效性。
	Exists(entryPath string) bool

	// IsValid 仅基于 sidecar 判断条目是否在 TTL 内。
	IsValid(entryPath string) bool

	// Delete 删除目标文件或目录；目标必须位于缓存根之下，
	// 否则拒绝执行并记录安全事件。
	Delete(target string, recursive bool) error

	// Size 遍历缓存树统计字节数。代价高，禁止出现在请求热路径。
	Size() (int64, error)

	// CountEntries 遍历缓存树统计条目数。代价高，禁止出现在请求热路径。
	CountEntries() (int, error)

	// FlushAll 清空整个缓存根，幂等。
	FlushAll() error
}

// Meta 是 sidecar 文件的 JSON 结构，时间为 Unix 秒。
type Meta struct {
	Created     int64  `json:"created"`
	TTL         int64  `json:"ttl"`
	ContentType string `json:"content_type,omitempty"`
}

// Expired 判断给定时刻条目是否已超过 TTL。
func (m Meta) Expired(now time.Time) bool {
	return now.Unix()-m.Created >= m.TTL
}

// ErrNotFound 表示缓存不存在或已失效。
var ErrNotFound = errors.New("cache entry not found")

// ErrOutsideRoot 表示删除目标落在缓存根之外，属于安全事件。
var ErrOutsideRoot = errors.New("delete target outside cache root")
