package reliability

import (
	"context"
	"errors"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
	"meshpad/pkg/circuitbreaker"
	"meshpad/pkg/retry"

	"go.uber.org/zap"
)

// ReliableRoomRepository shields the room store behind retry and a
// circuit breaker so a flaky redis does not cascade into the signal
// path. Domain verdicts (not found, already exists) pass through
// untouched and never count against the breaker.
type ReliableRoomRepository struct {
	base        ports.RoomRepository
	logger      *zap.SugaredLogger
	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
}

func NewReliableRoomRepository(
	base ports.RoomRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ReliableRoomRepository {
	w := &ReliableRoomRepository{
		base:        base,
		logger:      logger,
		retryConfig: retryConfig,
		breaker:     circuitbreaker.New("room-repository", cbConfig),
	}
	w.retryConfig.ShouldRetry = retriable

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("room repository breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

var _ ports.RoomRepository = (*ReliableRoomRepository)(nil)

// settled reports final verdicts no retry can change.
func settled(err error) bool {
	return errors.Is(err, domain.ErrRoomNotFound) ||
		errors.Is(err, domain.ErrRoomExists) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func retriable(err error) bool {
	return !settled(err) && !errors.Is(err, circuitbreaker.ErrOpen)
}

// execute runs one repository call under retry and the breaker. A
// settled error is smuggled past the breaker as a success so domain
// outcomes never open the circuit.
func execute[T any](ctx context.Context, w *ReliableRoomRepository, op func() (T, error)) (T, error) {
	if !w.retryConfig.Enabled {
		return op()
	}

	return retry.RetryWithResult(ctx, w.retryConfig, func() (T, error) {
		var (
			zero    T
			verdict error
		)
		result, err := circuitbreaker.Do(ctx, w.breaker, func() (T, error) {
			result, err := op()
			if err != nil && settled(err) {
				verdict = err
				return zero, nil
			}
			return result, err
		})
		if err == nil && verdict != nil {
			return zero, verdict
		}
		return result, err
	})
}

func (w *ReliableRoomRepository) do(ctx context.Context, op func() error) error {
	_, err := execute(ctx, w, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func (w *ReliableRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	return w.do(ctx, func() error { return w.base.Create(ctx, room) })
}

func (w *ReliableRoomRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.Room, error) {
	return execute(ctx, w, func() (*domain.Room, error) {
		return w.base.GetByID(ctx, id)
	})
}

func (w *ReliableRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	return w.do(ctx, func() error { return w.base.Update(ctx, room) })
}

func (w *ReliableRoomRepository) Delete(ctx context.Context, id domain.SessionID) error {
	return w.do(ctx, func() error { return w.base.Delete(ctx, id) })
}

func (w *ReliableRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	return execute(ctx, w, func() ([]*domain.Room, error) {
		return w.base.List(ctx)
	})
}

// BreakerStats exposes the breaker for diagnostics endpoints.
func (w *ReliableRoomRepository) BreakerStats() circuitbreaker.Stats {
	return w.breaker.Snapshot()
}
