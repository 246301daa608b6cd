// Package data holds the observation container shared by the operators of a
// pipeline.
//
// A Data container is built against the process-group layout of a comm.Comm
// and starts empty. Operators append Observations during exec. Every
// Observation is owned by exactly one process group: only the ranks of that
// group hold its detector samples, while every other process keeps an opaque
// placeholder reference. The container never moves sample data between
// groups; cross-group aggregation is the job of an explicit operator.
package data
