package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/page-vault/page-vault/internal/resolver"
)

// NewStore 以 root 为缓存根目录构建磁盘存储，整个进程复用一份实例。
func NewStore(root string, logger *logrus.Logger) (Store, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	return &fileStore{
		root:   abs,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目的进程内并发写入；
// 跨进程的同名竞争不加锁，后写覆盖即可（同一内容的幂等重渲染）。
type fileStore struct {
	root   string
	logger *logrus.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Write(entryPath string, payload []byte, ttl time.Duration, contentType string) error {
	if err := s.guard(entryPath); err != nil {
		return err
	}

	unlock := s.lockEntry(entryPath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(entryPath), 0o755); err != nil {
		return fmt.Errorf("create entry dir: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(entryPath), ".pv-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return fmt.Errorf("write payload: %w", err)
	}

	if err := os.Rename(tempName, entryPath); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("publish payload: %w", err)
	}

	meta := Meta{Created: s.now().Unix(), TTL: int64(ttl / time.Second), ContentType: contentType}
	if err := s.writeMeta(entryPath, meta); err != nil {
		// 接受的非对称行为：正文已落盘，sidecar 失败只降级为 “下次读取视为无效”。
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "sidecar_write_failed",
			"path":   entryPath,
		}).Warn("cache sidecar write failed")
	}
	return nil
}

func (s *fileStore) writeMeta(entryPath string, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(resolver.MetaPath(entryPath), data, 0o644)
}

func (s *fileStore) Read(entryPath string) ([]byte, Meta, error) {
	if err := s.guard(entryPath); err != nil {
		return nil, Meta{}, err
	}

	meta, err := s.readMeta(entryPath)
	if err != nil || meta.Expired(s.now()) {
		return nil, Meta{}, ErrNotFound
	}

	payload, err := os.ReadFile(entryPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Meta{}, ErrNotFound
		}
		return nil, Meta{}, err
	}
	return payload, meta, nil
}

func (s *fileStore) Exists(entryPath string) bool {
	info, err := os.Stat(entryPath)
	return err == nil && !info.IsDir()
}

func (s *fileStore) IsValid(entryPath string) bool {
	meta, err := s.readMeta(entryPath)
	if err != nil {
		return false
	}
	return !meta.Expired(s.now()) && s.Exists(entryPath)
}

func (s *fileStore) readMeta(entryPath string) (Meta, error) {
	data, err := os.ReadFile(resolver.MetaPath(entryPath))
	if err != nil {
		return Meta{}, err
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "sidecar_corrupt",
			"path":   entryPath,
		}).Warn("cache sidecar unreadable")
		return Meta{}, err
	}
	return meta, nil
}

func (s *fileStore) Delete(target string, recursive bool) error {
	if err := s.guard(target); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action": "delete_refused",
			"target": target,
		}).Warn("refused delete outside cache root")
		return err
	}

	if recursive {
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("delete %s: %w", target, err)
		}
		return nil
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", target, err)
	}
	return nil
}

func (s *fileStore) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func (s *fileStore) CountEntries() (int, error) {
	count := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && filepath.Base(path) == resolver.EntryFile {
			count++
		}
		return nil
	})
	return count, err
}

func (s *fileStore) FlushAll() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache root: %w", err)
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("flush %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// guard 确保目标位于缓存根之下，任何越界访问直接拒绝。
func (s *fileStore) guard(target string) error {
	cleaned := filepath.Clean(target)
	if cleaned == s.root {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, target)
	}
	if !strings.HasPrefix(cleaned, s.root+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, target)
	}
	return nil
}

func (s *fileStore) lockEntry(entryPath string) func() {
	s.mu.Lock()
	lock := s.locks[entryPath]
	if lock == nil {
		lock = &entryLock{}
		s.locks[entryPath] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, entryPath)
		}
		s.mu.Unlock()
	}
}
