/*
Package session serializes work on a single workflow session.

At most one caller may operate on a session at a time. A second caller is
rejected immediately with domain.ErrSessionBusy instead of queueing, so that a
session can never be stepped twice concurrently. When a DistributedLocker is
configured the same guarantee holds across replicas.
*/
package session
