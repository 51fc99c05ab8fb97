// Package tasks provides concrete Runner implementations for the scheduler:
// a heartbeat logger, calendar (cron) jobs, chunked long-running work and a
// systemd watchdog pinger.
package tasks
