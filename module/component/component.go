package component

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/onflow/sectionnet/module"
	"github.com/onflow/sectionnet/module/irrecoverable"
	"github.com/onflow/sectionnet/module/util"
)

// ErrComponentShutdown is returned by a component which has already been shut down.
var ErrComponentShutdown = errors.New("component has already shut down")

// Component can be started once and exposes channels that close when startup
// and shutdown have completed. Once Start has been called, Done must close
// eventually, after a graceful shutdown or an irrecoverable error.
type Component interface {
	module.Startable
	module.ReadyDoneAware
}

type ComponentFactory func() (Component, error)

// OnError inspects an irrecoverable error and decides how RunComponent proceeds.
type OnError = func(err error) ErrorHandlingResult

type ErrorHandlingResult int

const (
	ErrorHandlingRestart ErrorHandlingResult = iota
	ErrorHandlingStop
)

// RunComponent starts the components built by factory, one at a time, until
// ctx is cancelled or the handler stops on an irrecoverable error. It returns
// the context error, the last handled error, or the factory error.
func RunComponent(ctx context.Context, factory ComponentFactory, handler OnError) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c, err := factory()
		if err != nil {
			return err
		}
		runCtx, cancel := context.WithCancel(ctx)
		signalerCtx, errs := irrecoverable.WithSignaler(runCtx)
		// Start may throw, which exits the calling goroutine
		go c.Start(signalerCtx)

		err = util.WaitError(errs, c.Done())
		cancel()
		<-c.Done()

		switch {
		case err != nil:
			switch result := handler(err); result {
			case ErrorHandlingRestart:
				continue
			case ErrorHandlingStop:
				return err
			default:
				panic(fmt.Sprintf("invalid error handling result: %v", result))
			}
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return nil
		}
	}
}

// ReadyFunc is called by a worker once it is ready.
type ReadyFunc func()

// ComponentWorker is a routine of a component. It throws irrecoverable errors
// through ctx and must call ready once it is ready.
type ComponentWorker func(ctx irrecoverable.SignalerContext, ready ReadyFunc)

// ComponentManagerBuilder collects the workers of a ComponentManager.
type ComponentManagerBuilder interface {
	AddWorker(ComponentWorker) ComponentManagerBuilder
	Build() *ComponentManager
}

type componentManagerBuilderImpl struct {
	workers []ComponentWorker
}

func NewComponentManagerBuilder() ComponentManagerBuilder {
	return &componentManagerBuilderImpl{}
}

// AddWorker adds a worker. Workers run in parallel once the manager starts.
// Not concurrency safe.
func (c *componentManagerBuilderImpl) AddWorker(worker ComponentWorker) ComponentManagerBuilder {
	c.workers = append(c.workers, worker)
	return c
}

func (c *componentManagerBuilderImpl) Build() *ComponentManager {
	return &ComponentManager{
		started:        atomic.NewBool(false),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		workersDone:    make(chan struct{}),
		shutdownSignal: make(chan struct{}),
		workers:        c.workers,
	}
}

var _ Component = (*ComponentManager)(nil)

// ComponentManager runs the workers of a component. Ready closes when every
// worker called its ReadyFunc, Done when every worker returned. Shutdown is
// requested by cancelling the context passed to Start. An error thrown by a
// worker shuts down the others and is thrown to the parent context.
type ComponentManager struct {
	started        *atomic.Bool
	ready          chan struct{}
	done           chan struct{}
	workersDone    chan struct{}
	shutdownSignal chan struct{}

	workers []ComponentWorker
}

// Start launches the workers. It panics if called more than once.
func (c *ComponentManager) Start(parent irrecoverable.SignalerContext) {
	if !c.started.CompareAndSwap(false, true) {
		panic(module.ErrMultipleStartup)
	}

	ctx, cancel := context.WithCancel(parent)
	signalerCtx, errs := irrecoverable.WithSignaler(ctx)

	go func() {
		<-ctx.Done()
		close(c.shutdownSignal)
	}()

	go func() {
		// done closes after the error reached the parent
		defer func() {
			<-c.workersDone
			close(c.done)
		}()
		if err := util.WaitError(errs, c.workersDone); err != nil {
			cancel()
			parent.Throw(err)
		}
	}()

	var workersReady, workersDone sync.WaitGroup
	workersReady.Add(len(c.workers))
	workersDone.Add(len(c.workers))
	for _, worker := range c.workers {
		worker := worker
		go func() {
			defer workersDone.Done()
			var once sync.Once
			worker(signalerCtx, func() {
				once.Do(workersReady.Done)
			})
		}()
	}

	go func() {
		workersReady.Wait()
		close(c.ready)
	}()
	go func() {
		workersDone.Wait()
		close(c.workersDone)
	}()
}

// Ready returns a channel closed once every worker is ready. It never closes
// if a worker returns before being ready.
func (c *ComponentManager) Ready() <-chan struct{} {
	return c.ready
}

// Done returns a channel closed once every worker returned.
func (c *ComponentManager) Done() <-chan struct{} {
	return c.done
}

// ShutdownSignal returns a channel closed when shutdown has commenced.
func (c *ComponentManager) ShutdownSignal() <-chan struct{} {
	return c.shutdownSignal
}
