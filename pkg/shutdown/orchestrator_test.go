package shutdown

import (
	"errors"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestAwaitAll(t *testing.T) {
	o := NewOrchestrator()

	stopped := make(chan int, 10)
	for i := 0; i < 10; i++ {
		go func(i int, sub chan chan error) {
			res := <-sub
			stopped <- i
			res <- nil
		}(i, o.Subscribe())
	}

	require.NoError(t, o.Await(time.Second))
	require.Len(t, stopped, 10)
}

func TestAwaitNoSubscribers(t *testing.T) {
	require.NoError(t, NewOrchestrator().Await(time.Second))
}

func TestAwaitCollectsErrors(t *testing.T) {
	o := NewOrchestrator()
	failure := errors.New("failed to flush")

	go func(sub chan chan error) {
		(<-sub) <- failure
	}(o.Subscribe())

	go func(sub chan chan error) {
		(<-sub) <- nil
	}(o.Subscribe())

	require.ErrorIs(t, o.Await(time.Second), failure)
}

func TestAwaitTimeout(t *testing.T) {
	o := NewOrchestrator()

	go func(sub chan chan error) {
		res := <-sub
		time.Sleep(time.Millisecond * 200)
		res <- nil
	}(o.Subscribe())

	require.ErrorIs(t, o.Await(time.Millisecond*50), ErrTimeout)
}
