// Package session tracks the server-side bookkeeping of in-flight streaming calls.
//
// # Overview
//
// A Session exists only while its call holds an admission slot. The Registry
// owns every Session, keyed by session id and indexed by hardware (device) id,
// and routes all reads and writes through one RWMutex so the stream
// coordinator, the idle reaper and interrupt requests never race.
//
// # States
//
//	active ──► interrupted
//	   │──────► expired
//	   └──────► completed
//
// Transitions are monotonic. Once a session leaves active, Mark, Touch and
// InterruptDevice leave it untouched and report that nothing changed.
//
// # Registry
//
// Key operations:
//
//   - Register(hardwareID, suggestedID, slot): add an active session
//   - Touch(id, at): advance last activity and count one sent unit
//   - GetActive(hardwareID): snapshot the device's active sessions
//   - Mark(id, state): apply a terminal transition
//   - InterruptDevice(hardwareID): query-and-mark every active session of a device
//   - ExpireIdle(cutoff): mark sessions idle since before cutoff as expired
//   - Remove(id): final cleanup by the owning call
//
// Expired sessions close their Reaped channel so a call blocked on a slow
// backend observes the expiry without waiting for the next unit.
package session
