package hostinfo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/larry091001/incubator-skywalking/internal/metrics"
)

// Usage is one resource sample of the collector host
type Usage struct {
	Timestamp     time.Time
	CPUPercent    float64
	MemoryPercent float64
}

// Sampler periodically samples host CPU and memory usage into the
// collector's gauges
type Sampler struct {
	logger   *zap.Logger
	interval time.Duration
	window   time.Duration

	mu   sync.RWMutex
	last Usage

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewSampler creates a sampler that takes a sample every interval
func NewSampler(logger *zap.Logger, interval time.Duration) *Sampler {
	window := time.Second
	if interval < 2*window {
		window = interval / 2
	}
	return &Sampler{
		logger:   logger.Named("host-sampler"),
		interval: interval,
		window:   window,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sampling loop until ctx is cancelled or Stop is called
func (s *Sampler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("Starting host sampler", zap.Duration("interval", s.interval))
	go s.loop(ctx)
}

// Stop ends the sampling loop and waits for it to exit
func (s *Sampler) Stop() {
	s.once.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

// Last returns the most recent sample
func (s *Sampler) Last() Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Sample(); err != nil {
				s.logger.Error("Failed to sample host usage", zap.Error(err))
			}
		}
	}
}

// Sample takes one CPU and memory reading
func (s *Sampler) Sample() error {
	cpuPercent, err := cpu.Percent(s.window, false)
	if err != nil {
		return err
	}
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return err
	}

	usage := Usage{Timestamp: time.Now(), MemoryPercent: memInfo.UsedPercent}
	if len(cpuPercent) > 0 {
		usage.CPUPercent = cpuPercent[0]
	}

	s.mu.Lock()
	s.last = usage
	s.mu.Unlock()

	metrics.SetHostUsage(usage.CPUPercent, usage.MemoryPercent)

	s.logger.Debug("Host usage sampled",
		zap.Float64("cpu_usage", usage.CPUPercent),
		zap.Float64("memory_usage", usage.MemoryPercent))
	return nil
}
