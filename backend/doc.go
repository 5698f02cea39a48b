/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package backend scores evaluation units with a vision-language model.
//
// An Adapter wraps one Invoker (Claude, Gemini or OpenAI) and turns a unit
// into a Response. It loads the unit's images, renders the rubric prompt,
// bounds concurrency with a per-backend semaphore, retries transient
// failures under a shared retry.Policy and extracts the structured score
// block from the model's free-form reply.
//
// Score never returns a Go error. Every failure is classified into the
// Response as either OutcomeCallError (the call did not produce a reply)
// or OutcomeParseError (the reply did not contain a usable score block).
// Parse errors are never retried.
//
// # Usage
//
//	inv, err := backend.NewInvoker(ctx, backend.Config{
//	    Model:   "claude-sonnet-4@20250514",
//	    Project: "my-project",
//	    Region:  "us-east5",
//	})
//	if err != nil {
//	    return err
//	}
//	a, err := backend.New(backend.A, inv, images, rubrics,
//	    backend.WithConcurrency(4),
//	    backend.WithRetryPolicy(retry.DefaultPolicy()),
//	)
//	if err != nil {
//	    return err
//	}
//	resp := a.Score(ctx, u)
package backend
