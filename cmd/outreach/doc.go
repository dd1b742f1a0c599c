// Command outreach runs the scheduled outreach daemon and offers offline
// tools over its history: statistics, health checks, CSV export and purging.
package main
