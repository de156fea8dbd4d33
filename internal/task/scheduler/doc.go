// Package scheduler runs named jobs on cron schedules inside the process.
//
// Each job is a small state machine:
//
//	Idle --Start--> Armed --timer/RunNow--> Running --done--> Armed ...
//
// The next run is always computed from the moment a run completes, so the
// cadence drifts by the handler's own runtime. A job never overlaps itself;
// different jobs may run concurrently. Stop clears every pending timer but
// leaves in-flight handlers alone; they simply do not re-arm.
package scheduler
