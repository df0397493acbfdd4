package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/reader"
	"github.com/dbsmedya/goextract/internal/resolver"
)

// ErrNotReady is returned when the host never reached a state in which
// extraction would produce trustworthy data.
var ErrNotReady = errors.New("host not ready for extraction")

// ReadinessProbe polls the host until it is quiescent and a designated root
// kind's first instance exposes a canonical ID.
//
// It makes a bounded number of attempts with a fixed delay between them and
// then gives up; the run can be triggered again later.
type ReadinessProbe struct {
	rt        heap.Runtime
	loader    *CandidateLoader
	res       *resolver.Resolver
	reader    *reader.Reader
	probeKind string
	probePath string
	retries   int
	delay     time.Duration
	logger    *logger.Logger
}

// NewReadinessProbe creates a probe. An empty probeKind only checks
// quiescence.
func NewReadinessProbe(rt heap.Runtime, loader *CandidateLoader, res *resolver.Resolver, rd *reader.Reader,
	probeKind, probePath string, retries int, delay time.Duration, log *logger.Logger) *ReadinessProbe {
	if retries <= 0 {
		retries = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ReadinessProbe{
		rt:        rt,
		loader:    loader,
		res:       res,
		reader:    rd,
		probeKind: probeKind,
		probePath: probePath,
		retries:   retries,
		delay:     delay,
		logger:    log,
	}
}

// Check makes one readiness attempt. When not ready, reason says why.
func (p *ReadinessProbe) Check() (ready bool, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			ready, reason = false, fmt.Sprintf("probe panicked: %v", rec)
		}
	}()

	if q, ok := p.rt.(heap.Quiescer); ok && !q.Quiescent() {
		return false, "host is not quiescent"
	}
	if p.probeKind == "" {
		return true, ""
	}

	cls, ok := p.res.Class(p.probeKind)
	if !ok {
		return false, fmt.Sprintf("probe kind %s is not in metadata", p.probeKind)
	}
	addrs, _, err := p.loader.Load(p.probeKind, cls, p.probePath)
	if err != nil {
		return false, fmt.Sprintf("probe kind %s failed to load: %v", p.probeKind, err)
	}
	if len(addrs) == 0 {
		return false, fmt.Sprintf("probe kind %s has no instances", p.probeKind)
	}

	h := heap.Handle{Addr: addrs[0], Class: cls}
	if c, err := p.rt.ClassOf(addrs[0]); err == nil {
		h.Class = c
	}
	if !p.reader.Guard().IsAlive(h) {
		return false, fmt.Sprintf("first %s instance is not alive", p.probeKind)
	}
	if _, ok := canonicalID(p.reader, h); !ok {
		return false, fmt.Sprintf("first %s instance has no id", p.probeKind)
	}
	return true, ""
}

// Wait blocks until Check succeeds, the retry budget is spent or ctx ends.
func (p *ReadinessProbe) Wait(ctx context.Context) error {
	var reason string
	for attempt := 1; attempt <= p.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("readiness wait cancelled: %w", err)
		}

		var ready bool
		ready, reason = p.Check()
		if ready {
			p.logger.Debugw("Host ready", "attempt", attempt)
			return nil
		}
		p.logger.Infow("Host not ready", "attempt", attempt, "retries", p.retries, "reason", reason)

		if attempt == p.retries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("readiness wait cancelled: %w", ctx.Err())
		case <-time.After(p.delay):
		}
	}
	return fmt.Errorf("%w after %d attempts: %s", ErrNotReady, p.retries, reason)
}
