// Package task is the asynchronous job engine. It defines the job kinds and
// their retry policies, dispatches jobs to a worker pool through a delayed
// queue, runs status hooks on terminal outcomes, and coordinates the
// fan-out/fan-in pipeline that turns an accepted submission into a delivered
// artifact without blocking the request that created it.
package task
