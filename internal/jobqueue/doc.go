// Package jobqueue implements a cooperative, time-sliced job scheduler.
//
// A Queue holds resumable jobs and drains them once per external tick under a
// wall-clock budget. Jobs that do not finish inside their slice stay queued
// and resume on a later Process call. A Queue is owned by a single goroutine;
// only Job accessors and Job.Cancel may be used from elsewhere.
package jobqueue
