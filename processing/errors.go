package processing

import "errors"

var (
	// ErrFatal wraps the cause when the loop halts permanently: a
	// reset-and-resume attempt failed or recoveries kept failing.
	ErrFatal = errors.New("processing loop halted")

	// ErrAlreadyStarted is returned by Start on a loop that has left Idle.
	ErrAlreadyStarted = errors.New("processing loop already started")
)
