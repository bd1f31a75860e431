// Package stream holds the shared domain model: monitored accounts, their
// schedule fields, per-check results and the error taxonomy used by check
// strategies.
package stream
