/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package checkpoint persists resolved records so an interrupted run can
// resume without rescoring completed units.
//
// Each namespace (experiment, model) owns a directory holding two files:
//
//	<dir>/<experiment>/<model>/records.jsonl   append-only log, one envelope per line
//	<dir>/<experiment>/<model>/snapshot.json   full record set as of a log offset
//
// A log line is a self-describing envelope:
//
//	{"v":1,"run_id":"...","namespace":{...},"persisted_at":"...","record":{...}}
//
// Loading reads the snapshot and replays log lines written after the
// snapshot's log_offset. A torn final line left by a crash is skipped and
// counted; every earlier record survives. Snapshots are written to a
// temporary file and renamed into place.
//
// Write failures are returned wrapped in ErrIO and must abort the run.
package checkpoint
