// Package engine owns job lifecycles end to end: cap-checked admission into
// the in-memory registry, worker process supervision (spawn, line-oriented
// output streaming, graceful stop with forced-kill escalation), event fan-out
// to tenant rooms, and the retention reaper that reclaims finished jobs.
package engine
