package controlplane

import "errors"

var (
	// ErrTaskNotFound is returned when a task is not found in the registry.
	ErrTaskNotFound = errors.New("task not found")
	// ErrMissingField is returned when a TaskSpec lacks a required field.
	ErrMissingField = errors.New("missing required field")
	// ErrStalePin reports that a task changed between a caller's read and
	// write. No function in this package returns it; SetPinned does not.
	ErrStalePin = errors.New("task changed since last read")
	// ErrNotifyDelivery is returned when a notification could not be
	// handed to any subscriber after every backoff retry was exhausted.
	ErrNotifyDelivery = errors.New("notification delivery failed")
)
