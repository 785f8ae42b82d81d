package registrar

import "time"

// Options tunes one Registrar. Zero values fall back to the defaults below.
type Options struct {
	// Parallel registers priority waves in bounded concurrent chunks instead
	// of walking the topological order one service at a time.
	Parallel bool
	// ChunkSize bounds concurrency inside one wave (default 4).
	ChunkSize int
	// GroupByPriority restores the coarse priority-group batching instead of
	// dependency-true waves.
	//
	// Deprecated: priority groups do not respect the dependency graph unless
	// priorities happen to agree with it; dependency waves are always safe.
	GroupByPriority bool

	// MaxRetries is the total construction attempt budget per service
	// (default 3).
	MaxRetries int
	// BackoffBase is the wait before the second attempt (default 100ms).
	BackoffBase time.Duration
	// BackoffMultiplier grows the wait geometrically (default 2).
	BackoffMultiplier float64
	// BackoffMax caps any single wait (default 5s).
	BackoffMax time.Duration

	// ContinueOnError marks exhausted services permanently failed and keeps
	// going instead of aborting the run.
	ContinueOnError bool

	// DefaultTimeout bounds construction for definitions without their own
	// timeout (default 30s).
	DefaultTimeout time.Duration
	// HealthTimeout bounds each post-registration health probe (default 5s).
	HealthTimeout time.Duration
}

const (
	defaultChunkSize         = 4
	defaultMaxRetries        = 3
	defaultBackoffBase       = 100 * time.Millisecond
	defaultBackoffMultiplier = 2.0
	defaultBackoffMax        = 5 * time.Second
	defaultTimeout           = 30 * time.Second
	defaultHealthTimeout     = 5 * time.Second
)

func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffMultiplier <= 1 {
		o.BackoffMultiplier = defaultBackoffMultiplier
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = defaultBackoffMax
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = defaultTimeout
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = defaultHealthTimeout
	}
	return o
}
