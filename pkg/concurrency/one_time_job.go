/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package concurrency

import (
	"sync"
)

type oneTimeJobState uint8

const (
	oneTimeJobStateInitial oneTimeJobState = iota
	oneTimeJobStateRunning
	oneTimeJobStateDone
)

// OneTimeJob represents an activity that must be done only once, such as tearing down a connection.
// Multiple goroutines can try to take the job, but only one of them will succeed.
// The others can wait on Done() until the job is complete and then read its result.
type OneTimeJob[T any] struct {
	lock   *sync.Mutex
	done   chan struct{}
	state  oneTimeJobState
	result T
}

func NewOneTimeJob[T any]() *OneTimeJob[T] {
	return &OneTimeJob[T]{
		lock:  &sync.Mutex{},
		done:  make(chan struct{}),
		state: oneTimeJobStateInitial,
	}
}

// Atomically tries to take the job.
// Returns true if the caller "got" the job and is supposed to perform it and call Complete().
func (otj *OneTimeJob[T]) TryTake() bool {
	otj.lock.Lock()
	defer otj.lock.Unlock()

	if otj.state == oneTimeJobStateInitial {
		otj.state = oneTimeJobStateRunning
		return true
	}

	return false
}

// Sets the job result and marks the job as done.
func (otj *OneTimeJob[T]) Complete(res T) {
	otj.lock.Lock()
	defer otj.lock.Unlock()

	switch otj.state {
	case oneTimeJobStateInitial:
		panic("cannot mark OneTimeJob as done before it is started")
	case oneTimeJobStateDone:
		panic("OneTimeJob marked as done more than once")
	}

	otj.state = oneTimeJobStateDone
	otj.result = res
	close(otj.done)
}

// Runs the job if nobody took it yet, otherwise waits for the goroutine that took it.
// Either way returns the job result. The second value is true if the caller ran the job.
func (otj *OneTimeJob[T]) Run(job func() T) (T, bool) {
	if otj.TryTake() {
		otj.Complete(job())
		return otj.result, true
	}
	return otj.WaitResult(), false
}

// Returns the channel that will be closed when the job is done.
func (otj *OneTimeJob[T]) Done() <-chan struct{} {
	return otj.done
}

// Waits for the job to be done and returns the result.
func (otj *OneTimeJob[T]) WaitResult() T {
	<-otj.done // Channel read establishes happens-before relationship for result read.
	return otj.result
}

// Returns true if the job has been taken, whether or not it is done yet.
func (otj *OneTimeJob[T]) IsTaken() bool {
	otj.lock.Lock()
	defer otj.lock.Unlock()

	return otj.state != oneTimeJobStateInitial
}

// Returns true if the job is done.
func (otj *OneTimeJob[T]) IsDone() bool {
	otj.lock.Lock()
	defer otj.lock.Unlock()

	return otj.state == oneTimeJobStateDone
}
