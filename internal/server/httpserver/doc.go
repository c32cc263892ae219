// Package httpserver serves the memsnap artifact API.
//
// The router layers request IDs, panic recovery, access logging, per-IP
// rate limiting, bearer auth and a write allow list over the handlers in
// package handler. Readers and writers carry separate token sets so that
// sandbox hosts can fetch baselines without being able to replace them.
package httpserver
