// Package session manages connection sessions. It handles session creation,
// identity binding, active-room tracking, expiration, and storage of
// ephemeral session state backed by Redis.
package session
