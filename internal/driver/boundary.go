package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/telesim/internal/mpi"
)

// abortCode is the exit code requested from every rank on failure.
const abortCode = 1

// PanicError is a recovered panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// preflightError marks a failure raised before the rank took part in any
// collective. Every rank runs the same checks on the same configuration, so
// every rank fails alike and the world is not aborted.
type preflightError struct {
	err error
}

func (e *preflightError) Error() string { return e.err.Error() }

func (e *preflightError) Unwrap() error { return e.err }

// Boundary turns a failure of one rank into an abort of its world.
type Boundary struct {
	world   mpi.Communicator
	stderr  io.Writer
	logger  *logging.Logger
	metrics *monitoring.Metrics

	once sync.Once
}

// NewBoundary creates the boundary of one rank. world may be nil.
func NewBoundary(world mpi.Communicator, stderr io.Writer, logger *logging.Logger, metrics *monitoring.Metrics) *Boundary {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Boundary{
		world:   world,
		stderr:  stderr,
		logger:  logger,
		metrics: metrics,
	}
}

// Guard runs body. A failure is returned as is in a single-process world or
// when it happened before the first collective.
// Otherwise it is printed to stderr and the world is aborted; Guard then
// returns mpi.ErrAborted wrapping the failure. A rank that fails because
// another rank aborted the world does not abort it again.
func (b *Boundary) Guard(ctx context.Context, body func(ctx context.Context) error) error {
	err := recoverCall(ctx, body)
	if err == nil {
		return nil
	}
	if b.world == nil || b.world.Size() == 1 {
		return err
	}
	var pre *preflightError
	if errors.As(err, &pre) {
		return pre.err
	}
	if errors.Is(err, mpi.ErrAborted) {
		return err
	}

	rank := b.world.Rank()
	msg := FormatFailure(rank, err)
	b.once.Do(func() {
		io.WriteString(b.stderr, msg)
		b.metrics.IncAborts()
		b.logger.Error("Aborting world", zap.Int("world_rank", rank), zap.Error(err))
		if abortErr := b.world.Abort(ctx, abortCode, msg); abortErr != nil {
			b.logger.Error("Abort failed", zap.Error(abortErr))
		}
	})
	return fmt.Errorf("%w: %w", mpi.ErrAborted, err)
}

func recoverCall(ctx context.Context, body func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return body(ctx)
}

// FormatFailure renders err, and the stack of a recovered panic, with every
// line prefixed by the world rank.
func FormatFailure(rank int, err error) string {
	text := err.Error()
	var perr *PanicError
	if errors.As(err, &perr) {
		text += "\n" + strings.TrimRight(string(perr.Stack), "\n")
	}

	prefix := fmt.Sprintf("Proc %d: ", rank)
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		sb.WriteString(prefix)
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}
