// Package appmanager implements the Application Manager (spec §4.6): the
// per-action child of an Application Companion that spawns and owns one
// payload process, parses its stdout protocol (pkg/stdoutparser), samples
// its resource usage (pkg/resources), and relays outcomes upstream over a
// request/reply transport.Conn.
package appmanager
