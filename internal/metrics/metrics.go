package metrics

// Recorder 是缓存层上报运行指标的最小接口，默认实现为 Noop。
type Recorder interface {
	Hit()
	Miss()
	Warmed()
	Purged()
	RateLimited()
}

// Noop is a drop-in Recorder implementation that does nothing. It is safe
// for concurrent use and intended as the default when no observability
// backend is configured.
type Noop struct{}

func (Noop) Hit()         {}
func (Noop) Miss()        {}
func (Noop) Warmed()      {}
func (Noop) Purged()      {}
func (Noop) RateLimited() {}

var _ Recorder = Noop{}
