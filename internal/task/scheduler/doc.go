// Package scheduler arms timed triggers: one-shot jobs (AddOnce) backed by
// per-name timers, and recurring schedules (cron specs or fixed intervals)
// backed by robfig/cron.
//
// One-shot jobs are handed to the task engine when they fire; recurring
// schedules run inline on the cron goroutine behind a DelayIfStillRunning
// chain, so a trigger that arrives while the previous run is active waits.
package scheduler
