package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/BaSui01/claudegate/types"
	"go.uber.org/zap"
)

// MaxAttemptsCeiling bounds Policy.MaxAttempts regardless of configuration.
const MaxAttemptsCeiling = 9

// Policy 定义重试策略配置
type Policy struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts" env:"MAX_ATTEMPTS"`          // 总尝试次数，含首次（1..9）
	BaseDelay      time.Duration `yaml:"base_delay" json:"base_delay" env:"BASE_DELAY"`                // 第一次重试前的延迟
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay" env:"MAX_DELAY"`                   // 单次延迟上限
	Multiplier     float64       `yaml:"multiplier" json:"multiplier" env:"MULTIPLIER"`                // 指数倍增因子
	JitterFraction float64       `yaml:"jitter_fraction" json:"jitter_fraction" env:"JITTER_FRACTION"` // 抖动比例，不超过 Multiplier-1
	MaxElapsed     time.Duration `yaml:"max_elapsed" json:"max_elapsed" env:"MAX_ELAPSED"`             // 整体耗时上限，0 表示不限
}

// DefaultPolicy 返回默认的重试策略
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		BaseDelay:      1 * time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
		MaxElapsed:     2 * time.Minute,
	}
}

// Validate rejects values that normalisation would silently change.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1 || p.MaxAttempts > MaxAttemptsCeiling:
		return fmt.Errorf("retry.max_attempts must be in [1,%d], got %d", MaxAttemptsCeiling, p.MaxAttempts)
	case p.BaseDelay <= 0:
		return fmt.Errorf("retry.base_delay must be positive")
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("retry.max_delay (%s) is below base_delay (%s)", p.MaxDelay, p.BaseDelay)
	case p.Multiplier < 1:
		return fmt.Errorf("retry.multiplier must be >= 1, got %g", p.Multiplier)
	case p.JitterFraction < 0 || p.JitterFraction > p.Multiplier-1:
		return fmt.Errorf("retry.jitter_fraction must be in [0,%g], got %g", p.Multiplier-1, p.JitterFraction)
	case p.MaxElapsed < 0:
		return fmt.Errorf("retry.max_elapsed must not be negative")
	}
	return nil
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.MaxAttempts > MaxAttemptsCeiling {
		p.MaxAttempts = MaxAttemptsCeiling
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = d.Multiplier
	}
	p.JitterFraction = math.Max(0, math.Min(p.JitterFraction, p.Multiplier-1))
	if p.MaxElapsed < 0 {
		p.MaxElapsed = 0
	}
	return p
}

// Delay returns the wait before retry number attempt (1-based), given a
// uniform sample u in [0,1).
//
//	delay(n) = min(base * m^(n-1) * (1 + u*jitter), maxDelay)
//
// Because jitter <= m-1, delay(n+1) >= delay(n) for any pair of samples.
func (p Policy) Delay(attempt int, u float64) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	u = math.Max(0, math.Min(u, math.Nextafter(1, 0)))

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)) * (1 + u*p.JitterFraction)
	if d >= float64(p.MaxDelay) || math.IsInf(d, 1) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// =============================================================================
// 🔁 重试器
// =============================================================================

// State describes one scheduled retry. It lives only for the duration of a
// single outbound call.
type State struct {
	Attempt  int           // the attempt that just failed
	Delay    time.Duration // wait before the next attempt
	LastKind types.Kind
	Elapsed  time.Duration
}

// Option configures a Retryer.
type Option func(*Retryer)

// WithRand replaces the jitter source.
func WithRand(f func() float64) Option { return func(r *Retryer) { r.rand = f } }

// WithSleep replaces the backoff wait. The function must return ctx.Err()
// when ctx ends first.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retryer) { r.sleep = f }
}

// WithClock replaces time.Now.
func WithClock(f func() time.Time) Option { return func(r *Retryer) { r.now = f } }

// WithOnRetry registers a callback invoked before every backoff wait.
func WithOnRetry(f func(context.Context, State, error)) Option { return func(r *Retryer) { r.onRetry = f } }

// Retryer runs an operation under a Policy. It holds no per-call state and
// is safe for concurrent use.
type Retryer struct {
	policy  Policy
	logger  *zap.Logger
	rand    func() float64
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	onRetry func(context.Context, State, error)
}

// New 创建指数退避重试器
func New(policy Policy, logger *zap.Logger, opts ...Option) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retryer{
		policy: policy.normalized(),
		logger: logger.With(zap.String("component", "retry")),
		rand:   rand.Float64,
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the effective, normalised policy.
func (r *Retryer) Policy() Policy { return r.policy }

// Do runs fn until it succeeds, fails fatally, or the budget runs out.
//
// fn receives the 1-based attempt number. Errors are retried only when they
// are *types.Error with Retryable set. A Retry-After hint on the error
// replaces the computed delay. Once ctx ends no further attempt is made.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	start := r.now()
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return contextError(err, lastErr, attempt-1)
		}

		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr, err, attempt)
		}
		if !types.IsRetryable(err) {
			return withAttempts(err, attempt)
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.policy.Delay(attempt, r.rand())
		if ra := types.RetryAfterOf(err); ra > 0 {
			delay = ra
		}
		elapsed := r.now().Sub(start)
		if r.policy.MaxElapsed > 0 && elapsed+delay > r.policy.MaxElapsed {
			r.logger.Debug("retry would exceed elapsed ceiling",
				zap.Duration("elapsed", elapsed),
				zap.Duration("delay", delay),
				zap.Duration("max_elapsed", r.policy.MaxElapsed))
			return r.exhausted(err, attempt)
		}

		state := State{Attempt: attempt, Delay: delay, LastKind: types.KindOf(err), Elapsed: elapsed}
		r.logger.Debug("retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.String("last_kind", string(state.LastKind)),
			zap.Error(err))
		if r.onRetry != nil {
			r.onRetry(ctx, state, err)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return contextError(err, lastErr, attempt)
		}
	}

	return r.exhausted(lastErr, r.policy.MaxAttempts)
}

func (r *Retryer) exhausted(last error, attempts int) error {
	if last == nil {
		r.logger.Error("retry budget exhausted without a recorded failure", zap.Int("attempts", attempts))
		return types.NewError(types.KindUnknown, "retry exhausted without a recorded failure").
			WithReason(types.ReasonNoFailure).WithAttempts(attempts)
	}
	r.logger.Warn("retry budget exhausted",
		zap.Int("attempts", attempts),
		zap.String("last_kind", string(types.KindOf(last))))

	e := types.NewError(types.KindRetryExhausted, fmt.Sprintf("gave up after %d attempts", attempts)).
		WithCause(last).WithAttempts(attempts)
	if le, ok := types.AsError(last); ok {
		le.Attempts = attempts
		e.HTTPStatus = le.HTTPStatus
	}
	return e
}

func withAttempts(err error, attempts int) error {
	if e, ok := types.AsError(err); ok {
		return e.WithAttempts(attempts)
	}
	return err
}

// contextError reports caller cancellation or deadline. An error from fn of
// the same kind is returned as is.
func contextError(ctxErr, last error, attempts int) error {
	kind, msg := types.KindCancelled, "request cancelled"
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		kind, msg = types.KindTimeout, "request deadline exceeded"
	}
	if last != nil && types.KindOf(last) == kind {
		if e, ok := types.AsError(last); ok {
			return e.WithRetryable(false).WithAttempts(attempts)
		}
	}
	return types.NewError(kind, msg).WithCause(ctxErr).WithAttempts(attempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
