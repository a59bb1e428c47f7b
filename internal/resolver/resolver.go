// Package resolver translates request URLs into cache file locations under
// the configured cache root. All validation is fail-safe: any input that
// cannot be proven safe resolves to ErrUnsafePath, which callers treat the
// same as a cache miss. The prefix guard on the composed path is the last
// line of defense; the character allow-list does most of the work.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrUnsafePath 表示请求路径未通过安全校验，调用方应视同缓存未命中。
var ErrUnsafePath = errors.New("unsafe cache path")

// EntryFile 是每个缓存目录下的正文文件名，sidecar 为其追加 MetaSuffix。
const (
	EntryFile  = "index.html"
	MetaSuffix = ".meta"
)

// Resolver 将 (host, path) 映射为 {root}/{host}/{path}/index.html。
type Resolver struct {
	root string
}

// New 以缓存根目录构建 Resolver，root 必须是绝对路径。
func New(root string) (*Resolver, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	return &Resolver{root: abs}, nil
}

// Root 返回缓存根目录的绝对路径。
func (r *Resolver) Root() string {
	return r.root
}

// Resolve 依次执行：去 query → 空字节拒绝 → 剥离 ../ → 去首尾斜杠 →
// 绝对路径/点前缀/非法字符拒绝，最终拼出正文文件路径。
func (r *Resolver) Resolve(host, rawPath string) (string, error) {
	cleanHost, err := sanitizeHost(host)
	if err != nil {
		return "", err
	}

	p := rawPath
	if idx := strings.IndexByte(p, '?'); idx >= 0 {
		p = p[:idx]
	}
	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}

	if strings.IndexByte(p, 0) >= 0 {
		return "", fmt.Errorf("%w: null byte in %q", ErrUnsafePath, rawPath)
	}

	// 纵深防御：字符白名单本就拦下 '.'，这里仍显式拒绝穿越序列。
	if strings.Contains(p, "..") {
		return "", fmt.Errorf("%w: traversal sequence in %q", ErrUnsafePath, rawPath)
	}
	p = strings.Trim(p, "/")

	if p != "" {
		if p[0] == '/' || p[0] == '\\' {
			return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, rawPath)
		}
		if p[0] == '.' {
			return "", fmt.Errorf("%w: dot-prefixed path %q", ErrUnsafePath, rawPath)
		}
		for i := 0; i < len(p); i++ {
			if !allowedPathByte(p[i]) {
				return "", fmt.Errorf("%w: character %q in %q", ErrUnsafePath, p[i], rawPath)
			}
		}
	}

	composed := filepath.Join(r.root, cleanHost, filepath.FromSlash(p), EntryFile)
	if !strings.HasPrefix(composed, r.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: escapes cache root %q", ErrUnsafePath, rawPath)
	}
	return composed, nil
}

// ResolveURL 从完整 URL 出发执行同一套校验，供失效路由与预热器使用。
func (r *Resolver) ResolveURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: URL without host %q", ErrUnsafePath, rawURL)
	}
	return r.Resolve(parsed.Host, parsed.Path)
}

// MetaPath 返回正文文件对应的 sidecar 路径。
func MetaPath(entryPath string) string {
	return entryPath + MetaSuffix
}

// EntryDir 返回正文文件所在目录，失效时整目录删除。
func EntryDir(entryPath string) string {
	return filepath.Dir(entryPath)
}

func sanitizeHost(host string) (string, error) {
	h := strings.TrimSpace(strings.ToLower(host))
	if idx := strings.IndexByte(h, ':'); idx >= 0 {
		h = h[:idx]
	}
	if h == "" {
		return "", fmt.Errorf("%w: empty host", ErrUnsafePath)
	}
	if h[0] == '.' {
		return "", fmt.Errorf("%w: dot-prefixed host %q", ErrUnsafePath, host)
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '.' || c == '-' {
			continue
		}
		return "", fmt.Errorf("%w: character %q in host %q", ErrUnsafePath, c, host)
	}
	return h, nil
}

func allowedPathByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '/' || c == '_' || c == '-':
		return true
	}
	return false
}
