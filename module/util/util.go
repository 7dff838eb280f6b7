package util

import (
	"sync"

	"github.com/onflow/sectionnet/module"
)

// AllReady returns a channel that is closed when all components are ready.
func AllReady(components ...module.ReadyDoneAware) <-chan struct{} {
	chans := make([]<-chan struct{}, len(components))
	for i, c := range components {
		chans[i] = c.Ready()
	}
	return AllClosed(chans...)
}

// AllDone returns a channel that is closed when all components are done.
func AllDone(components ...module.ReadyDoneAware) <-chan struct{} {
	chans := make([]<-chan struct{}, len(components))
	for i, c := range components {
		chans[i] = c.Done()
	}
	return AllClosed(chans...)
}

// AllClosed returns a channel that is closed when all input channels are closed.
func AllClosed(channels ...<-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(len(channels))
	for _, ch := range channels {
		go func(ch <-chan struct{}) {
			<-ch
			wg.Done()
		}(ch)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// CheckClosed returns true if done is closed.
func CheckClosed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// WaitError waits for an error on errChan or for done to be closed. An error
// sent while done closes is still returned.
func WaitError(errChan <-chan error, done <-chan struct{}) error {
	select {
	case err := <-errChan:
		return err
	case <-done:
		select {
		case err := <-errChan:
			return err
		default:
			return nil
		}
	}
}
