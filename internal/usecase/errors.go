package usecase

import "errors"

var (
	// ErrCycleInProgress is returned when a cycle is requested while another one runs.
	ErrCycleInProgress = errors.New("processing cycle already in progress")
	// ErrTopicInactive is returned when a backfill targets a disabled topic.
	ErrTopicInactive = errors.New("topic is inactive")
)
