package server

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/page-vault/page-vault/internal/cache"
	"github.com/page-vault/page-vault/internal/kv"
)

const (
	figuresKey = "figures:cache"
	figuresTTL = 5 * time.Minute
)

// Figures 汇总面板展示用的缓存规模数据。Size/Count 需要整树遍历，
// 因此结果在共享 KV 中缓存 5 分钟，只有 TTL 过期或显式 flush 才重算。
type Figures struct {
	SizeBytes  int64 `json:"size_bytes"`
	Entries    int   `json:"entries"`
	ComputedAt int64 `json:"computed_at"`
}

// FigureSource 按需计算并缓存规模数据。
type FigureSource struct {
	pages cache.Store
	store kv.Store
}

// NewFigureSource 构建 FigureSource。
func NewFigureSource(pages cache.Store, store kv.Store) *FigureSource {
	return &FigureSource{pages: pages, store: store}
}

// Current 返回缓存的规模数据，过期时同步重算。
func (f *FigureSource) Current() (Figures, error) {
	if raw, err := f.store.Get(figuresKey); err == nil {
		var figures Figures
		if err := json.Unmarshal(raw, &figures); err == nil {
			return figures, nil
		}
	}

	return f.recompute()
}

// Invalidate 丢弃缓存的规模数据，flush 之后调用。
func (f *FigureSource) Invalidate() {
	_ = f.store.Delete(figuresKey)
}

func (f *FigureSource) recompute() (Figures, error) {
	size, err := f.pages.Size()
	if err != nil {
		return Figures{}, err
	}
	count, err := f.pages.CountEntries()
	if err != nil {
		return Figures{}, err
	}

	figures := Figures{
		SizeBytes:  size,
		Entries:    count,
		ComputedAt: time.Now().Unix(),
	}
	if raw, err := json.Marshal(figures); err == nil {
		_ = f.store.Set(figuresKey, raw, figuresTTL)
	}
	return figures, nil
}
