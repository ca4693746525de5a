// Package fetch retrieves release artifacts.
//
// Bodies are streamed to the caller's writer rather than buffered. Network
// errors (transport failures, timeouts, unexpected statuses) are retried a
// bounded number of times with exponential backoff; a missing resource is
// reported as not found and never retried.
package fetch
