package module

import (
	"errors"

	"github.com/onflow/sectionnet/module/irrecoverable"
)

// ErrMultipleStartup is returned when a component is started twice.
var ErrMultipleStartup = errors.New("component may only be started once")

// ReadyDoneAware provides easy interface to wait for module startup and shutdown.
// Modules that implement this interface only support a single start-stop cycle.
type ReadyDoneAware interface {
	// Ready returns a channel that is closed once startup has completed.
	Ready() <-chan struct{}
	// Done returns a channel that is closed once shutdown has completed.
	Done() <-chan struct{}
}

// Startable is a module that runs under a signaler context until the context
// is cancelled.
type Startable interface {
	Start(irrecoverable.SignalerContext)
}
