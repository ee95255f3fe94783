// Package orchestrator coordinates the merge pipeline: it accepts
// submissions, dispatches queued jobs to a worker pool, drives each job
// through fetch, encode, and publish, and maintains the queue in the
// background (heartbeats, stale-job reclamation, terminal-job retention).
//
// Workers claim jobs atomically from the queue store so no two workers ever
// hold the same job, including across daemon restarts. In-flight jobs can be
// cancelled cooperatively; a cancelled job lands in the failed state with the
// cancelled error kind and its scratch artifacts removed.
package orchestrator
