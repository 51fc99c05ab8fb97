package concurrency

import "errors"

var (
	// ErrNotSetup is the panic value (wrapped) when a Task or the main
	// controller is constructed before the setup barrier is crossed.
	ErrNotSetup = errors.New("scheduler used before setup")

	// ErrCapacity reports that the controller cannot register more tasks.
	ErrCapacity = errors.New("controller task capacity exhausted")

	// ErrTaskRunning is returned by Task.Close when the task is the one
	// currently executing.
	ErrTaskRunning = errors.New("task closed while running")
)
