// Package cron triggers scheduled jobs.
//
// Every process runs a [Scheduler] over the same job registry and fires
// each due job locally. Deduplication across the fleet is not the
// scheduler's concern: the job's run lock lets exactly one process do
// the work and records the others as SKIPPED.
//
// # Schedules
//
// A job's schedule is a standard 5-field cron expression ("0 9 * * 1-5")
// or a descriptor ("@hourly", "@every 30s"), parsed with
// github.com/robfig/cron/v3.
//
// # Scheduler
//
// The [Scheduler] evaluates due jobs on every tick. A job is first due at
// the schedule's next activation after the scheduler saw it, so starting a
// process never fires a job immediately. Each firing calls the RunFunc in
// its own goroutine and emits the TriggerFired extension hook.
package cron
