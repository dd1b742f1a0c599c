// Package logx wraps zerolog for the outreach process.
//
// Console lines are human readable with a short caller, the optional file
// sink gets JSON, and an alert sink forwards severe lines to the report
// notifier under a rate limit.
package logx
