// Package engine is the submission engine. It walks a validated dependency
// graph, hands each ready job to a scheduler adapter together with the handles
// of its upstream jobs, skips everything downstream of a failure, and writes
// each outcome through to the ledger so that a later run resumes where this one
// stopped.
package engine
