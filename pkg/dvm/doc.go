// Package dvm implements the job protocol: requests on kinds 5000-5999,
// results on the request kind plus 1000, and feedback on kind 7000.
//
// # Pipeline
//
// A Pipeline parses an incoming job request, resolves the result events it
// depends on, runs the executor registered for the request kind and formats
// the outcome as a result event. Execution failures become error-status
// result events rather than transport rejects; only an unparseable request
// is rejected outright.
//
//	p := dvm.NewPipeline(db, tracker)
//	p.RegisterExecutor(event.KindTextTask, dvm.TextTaskExecutor())
//	reg.Register(p.Skill())
//
// # Dependency resolution
//
// Requests chain on earlier results through "e" tags marked "dependency".
// Resolve walks those chains depth-first with a visited set, enforcing a
// depth cap of 10, rejecting cycles, and requiring every dependency to be a
// stored result event older than the job that references it.
//
// # Task tracking
//
// The Tracker holds per-task metadata and emits feedback events on state
// transitions. Progress updates are throttled by a minimum interval;
// transitions always emit. Terminal states delete the metadata.
package dvm
