// Package queue persists merge jobs in SQLite and is the source of truth
// for job state, idempotency, and status queries.
//
// Key types:
//   - Store: database handle with claim/update/maintenance operations
//   - Job: one requested merge tracked through its lifecycle
//   - Status: queued -> fetching -> encoding -> publishing -> done|failed
//
// Status transitions are monotonic; any non-terminal status may move
// directly to failed. Exactly one of result/error is populated once a
// job is terminal.
package queue
