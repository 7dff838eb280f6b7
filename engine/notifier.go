package engine

// Notifier wakes up a worker routine when new work arrives. Notifications
// sent while the worker is busy are coalesced into one. Notifiers can be
// passed by value.
type Notifier struct {
	notifier chan struct{}
}

func NewNotifier() Notifier {
	return Notifier{make(chan struct{}, 1)}
}

// Notify sends a notification without blocking.
func (n Notifier) Notify() {
	select {
	case n.notifier <- struct{}{}:
	default:
	}
}

// Channel returns the channel notifications are received on.
func (n Notifier) Channel() <-chan struct{} {
	return n.notifier
}
