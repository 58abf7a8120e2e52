// Package storage implements the alarm Persistence Gateway.
//
// Drivers:
//   - "file": one JSON document, replaced atomically on every save
//   - "sqlite": a SQLite database, one transaction per save
//   - "memory": process-local, for tests and dry runs
//
// Every driver saves and loads a complete alarm.Snapshot. A save either
// lands entirely or not at all.
package storage
