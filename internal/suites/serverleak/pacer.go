package serverleak

import (
	"context"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// pacer spaces the trial requests to one server. It halves its rate when the
// server answers 429 or 503 and recovers slowly on other answers.
type pacer struct {
	limiter   *rate.Limiter
	base      rate.Limit
	min       rate.Limit
	step      float64
	mu        sync.Mutex
	throttled int
	logger    *logrus.Logger
}

func newPacer(perSecond float64, burst int, logger *logrus.Logger) *pacer {
	if logger == nil {
		logger = logrus.New()
	}
	if burst < 1 {
		burst = 1
	}
	base := rate.Limit(perSecond)
	if perSecond <= 0 {
		base = rate.Inf
	}
	return &pacer{
		limiter: rate.NewLimiter(base, burst),
		base:    base,
		min:     rate.Limit(0.2),
		step:    0.10,
		logger:  logger,
	}
}

func (p *pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

func (p *pacer) Observe(status int) {
	if p.base == rate.Inf {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.limiter.Limit()
	next := current
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		p.throttled++
		next = current / 2
		if next < p.min {
			next = p.min
		}
	default:
		next = current * rate.Limit(1+p.step)
		if next > p.base {
			next = p.base
		}
	}
	if next != current {
		p.limiter.SetLimit(next)
		p.logger.Debugf("Adjusted trial rate from %.2f to %.2f req/s", float64(current), float64(next))
	}
}

func (p *pacer) Throttled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.throttled
}
