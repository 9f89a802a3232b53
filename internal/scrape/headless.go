package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// HeadlessProbe checks whether a headless browser can actually start on this
// host. The result is cached: availability does not flip at runtime, and a
// browser launch is too expensive to repeat per health check.
type HeadlessProbe struct {
	timeout time.Duration
	logger  *zap.Logger

	once      sync.Once
	available bool
}

// NewHeadlessProbe builds a probe with the given launch timeout.
func NewHeadlessProbe(timeout time.Duration, logger *zap.Logger) *HeadlessProbe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeadlessProbe{timeout: timeout, logger: logger}
}

// Available reports whether Chrome could be launched. The first call pays the
// launch cost; later calls return the cached answer.
func (p *HeadlessProbe) Available(ctx context.Context) bool {
	if p == nil {
		return false
	}
	p.once.Do(func() {
		p.available = p.tryLaunch(ctx)
	})
	return p.available
}

func (p *HeadlessProbe) tryLaunch(parent context.Context) bool {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate("about:blank")); err != nil {
		p.logger.Debug("headless browser unavailable", zap.Error(err))
		return false
	}
	return true
}
