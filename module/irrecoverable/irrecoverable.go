package irrecoverable

import (
	"context"
	"log"
	"runtime"
)

// Signaler sends irrecoverable errors out of the goroutine that hit them.
type Signaler struct {
	errors chan error
}

func NewSignaler() (*Signaler, <-chan error) {
	errs := make(chan error, 1)
	return &Signaler{errors: errs}, errs
}

// Throw hands err to the owner of the signaler and terminates the calling
// goroutine. Only the first error is kept.
func (s *Signaler) Throw(err error) {
	select {
	case s.errors <- err:
	default:
	}
	runtime.Goexit()
}

// SignalerContext is a context that can throw irrecoverable errors to the
// component that started its holder.
type SignalerContext interface {
	context.Context
	Throw(err error)
	sealed()
}

type signalerCtx struct {
	context.Context
	signaler *Signaler
}

func (sc signalerCtx) sealed() {}

func (sc signalerCtx) Throw(err error) {
	sc.signaler.Throw(err)
}

// WithSignaler returns a signaler context deriving from ctx and the channel its
// irrecoverable errors are sent to.
func WithSignaler(ctx context.Context) (SignalerContext, <-chan error) {
	sig, errs := NewSignaler()
	return signalerCtx{Context: ctx, signaler: sig}, errs
}

// Throw throws err through ctx if it is a signaler context, and exits the
// process otherwise.
func Throw(ctx context.Context, err error) {
	if sc, ok := ctx.(SignalerContext); ok {
		sc.Throw(err)
	}
	log.Fatalf("irrecoverable error without signaler context: %v", err)
}
