// Package stream runs one StreamResponses call from admission to its terminal
// message.
//
// A call moves through
//
//	ADMITTING ──► STREAMING ──► COMPLETED | FAILED | INTERRUPTED | IDLE_TIMEOUT
//
// Validation failures and admission denials never reach the registry. Once a
// slot is granted the call registers a session, pulls units from the backend
// through a one-unit channel and, before forwarding each unit, checks the
// session's state and the slot's rate window. Whatever the exit path, the slot
// and session are released before the single terminal message is sent.
package stream
