package cron

import "time"

// Entry is the scheduler's view of one scheduled job.
type Entry struct {
	JobName   string     `json:"job_name"`
	Schedule  string     `json:"schedule"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
}
