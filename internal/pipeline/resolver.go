package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depthbridge/internal/device"
)

// DefaultResolveTimeout bounds a single transform lookup.
const DefaultResolveTimeout = 5 * time.Millisecond

// TransformResolver wraps a device transform service so that every failure
// mode comes back as an invalid result instead of an error or a stall.
type TransformResolver struct {
	svc     device.TransformService
	timeout time.Duration

	lookups  atomic.Uint64
	invalid  atomic.Uint64
	failures atomic.Uint64
	timeouts atomic.Uint64
}

// ResolverStats is a snapshot of resolver counters.
type ResolverStats struct {
	Lookups  uint64 `json:"lookups"`
	Invalid  uint64 `json:"invalid"`
	Failures uint64 `json:"failures"`
	Timeouts uint64 `json:"timeouts"`
}

// NewTransformResolver returns a resolver over svc. A non-positive timeout
// selects DefaultResolveTimeout.
func NewTransformResolver(svc device.TransformService, timeout time.Duration) *TransformResolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &TransformResolver{svc: svc, timeout: timeout}
}

// Resolve looks up q. The result is PoseInvalid when the service is
// unavailable, returns an error, exceeds the timeout or hands back a matrix
// that is not a rigid transform.
func (r *TransformResolver) Resolve(ctx context.Context, q device.TransformQuery) device.TransformResult {
	r.lookups.Add(1)
	invalid := device.TransformResult{Timestamp: q.Timestamp, Status: device.PoseInvalid}
	if r.svc == nil {
		r.failures.Add(1)
		return invalid
	}

	res, err := lookup(ctx, r.timeout, func(ctx context.Context) (device.TransformResult, error) {
		return r.svc.TransformAt(ctx, q)
	})
	if err != nil {
		r.failures.Add(1)
		if errors.Is(err, context.DeadlineExceeded) {
			r.timeouts.Add(1)
		}
		tracef("resolve %s failed: %v", q, err)
		return invalid
	}
	if res.Status != device.PoseValid {
		r.invalid.Add(1)
		return res
	}
	if !res.Matrix.IsRigid() {
		r.invalid.Add(1)
		diagf("resolve %s returned a non-rigid matrix", q)
		return invalid
	}
	return res
}

// ResolvePose is Resolve for callers that want a pose.
func (r *TransformResolver) ResolvePose(ctx context.Context, q device.TransformQuery) device.PoseSample {
	r.lookups.Add(1)
	invalid := device.PoseSample{Timestamp: q.Timestamp, Base: q.Base, Target: q.Target, Status: device.PoseInvalid}
	if r.svc == nil {
		r.failures.Add(1)
		return invalid
	}

	pose, err := lookup(ctx, r.timeout, func(ctx context.Context) (device.PoseSample, error) {
		return r.svc.PoseAt(ctx, q)
	})
	if err != nil {
		r.failures.Add(1)
		if errors.Is(err, context.DeadlineExceeded) {
			r.timeouts.Add(1)
		}
		tracef("pose %s failed: %v", q, err)
		return invalid
	}
	if pose.Status != device.PoseValid {
		r.invalid.Add(1)
	}
	return pose
}

// lookup runs fn on its own goroutine and gives up after timeout, so a
// service that ignores ctx cannot hold the caller past the bound. The
// abandoned call finishes into a buffered channel.
func lookup[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		select {
		case res := <-done:
			return res.v, res.err
		default:
		}
		var zero T
		return zero, ctx.Err()
	}
}

// Stats returns the resolver counters.
func (r *TransformResolver) Stats() ResolverStats {
	return ResolverStats{
		Lookups:  r.lookups.Load(),
		Invalid:  r.invalid.Load(),
		Failures: r.failures.Load(),
		Timeouts: r.timeouts.Load(),
	}
}
