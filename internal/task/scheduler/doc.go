// Package scheduler registers time triggers (cron, interval, daily, weekday
// slots, one-shot) over robfig/cron and enqueues their jobs into the task engine.
//
// The scheduler never runs a job itself; execution, timeouts and retries belong
// to engine.Service.
package scheduler
