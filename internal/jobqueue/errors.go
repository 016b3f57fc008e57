package jobqueue

import "errors"

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job_not_found")

// ErrCannotCancelInternal is returned by Cancel for internal jobs, which
// the in-process runner owns exclusively (spec §4.E).
var ErrCannotCancelInternal = errors.New("cannot_cancel_internal_job")

// ErrStaleCompletion is returned when an external completion references a
// job whose lease has already expired and been recycled.
var ErrStaleCompletion = errors.New("stale_completion")

// ErrNoCapacity names the outcome of a claim that finds no matching job
// within waitMs. Claim reports that outcome as (nil, false) and does not
// return this error.
var ErrNoCapacity = errors.New("no_capacity")
