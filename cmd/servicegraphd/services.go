package main

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/servicegraph/internal/service"
)

// buildInfo is a plain value service other services consume.
type buildInfo struct {
	Name      string
	Version   string
	GoVersion string
}

// heartbeat is a factory-built background service with the full hook set. It
// ticks until disposed and reports unhealthy once the loop stops.
type heartbeat struct {
	interval time.Duration
	logger   *zap.Logger
	info     *buildInfo

	stopCh  chan struct{}
	running atomic.Bool
}

func newHeartbeat(info *buildInfo, logger *zap.Logger) *heartbeat {
	return &heartbeat{
		interval: 30 * time.Second,
		logger:   logger,
		info:     info,
		stopCh:   make(chan struct{}),
	}
}

func (h *heartbeat) Initialize(context.Context) error {
	h.running.Store(true)
	go h.loop()
	return nil
}

func (h *heartbeat) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.logger.Debug("heartbeat",
				zap.String("app", h.info.Name),
				zap.String("version", h.info.Version),
			)
		case <-h.stopCh:
			return
		}
	}
}

func (h *heartbeat) HealthCheck(context.Context) error {
	if !h.running.Load() {
		return errors.New("heartbeat loop is not running")
	}
	return nil
}

func (h *heartbeat) Dispose(context.Context) error {
	if h.running.CompareAndSwap(true, false) {
		close(h.stopCh)
	}
	return nil
}

// uptimeProbe is constructed by struct injection; its dependencies arrive via
// tagged fields.
type uptimeProbe struct {
	Info  *buildInfo `service:"buildinfo"`
	Beat  *heartbeat `service:"heartbeat"`
	since time.Time
}

func (u *uptimeProbe) Initialize(context.Context) error {
	u.since = time.Now().UTC()
	return nil
}

func (u *uptimeProbe) Uptime() time.Duration {
	return time.Since(u.since)
}

// builtinDefinitions returns the daemon's own service graph. It exercises all
// three construction kinds and every lifecycle hook, so a running daemon
// always has something meaningful behind its introspection endpoints.
func builtinDefinitions(logger *zap.Logger) []service.Definition {
	return []service.Definition{
		{
			Name: "buildinfo",
			Kind: service.KindValue,
			Impl: &buildInfo{
				Name:      "servicegraphd",
				Version:   "dev",
				GoVersion: runtime.Version(),
			},
		},
		{
			Name:         "heartbeat",
			Kind:         service.KindFactory,
			Dependencies: []string{"buildinfo"},
			Critical:     true,
			Impl: func(info *buildInfo) *heartbeat {
				return newHeartbeat(info, logger.Named("heartbeat"))
			},
		},
		{
			Name:         "uptime",
			Kind:         service.KindConstructor,
			Dependencies: []string{"buildinfo", "heartbeat"},
			Impl:         uptimeProbe{},
			Tags: service.Tags{
				RequiredMethods: []string{"Uptime"},
			},
		},
	}
}
