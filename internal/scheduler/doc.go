// Package scheduler holds the readiness rules the submission engine applies
// to each job: wait for pending dependencies, submit once every dependency
// holds a handle, or skip when an upstream job failed or was never submitted.
package scheduler
