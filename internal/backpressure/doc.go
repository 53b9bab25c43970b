// Package backpressure is the gateway's admission control.
//
// # Overview
//
// The Manager hands out at most MaxConcurrentStreams slots. A call must hold a
// slot for its whole lifetime; when the gateway is full the next Acquire fails
// immediately with faults.ErrStreamLimit and changes nothing. While the gateway
// drains for shutdown, Acquire fails with faults.ErrShuttingDown.
//
// # Slots
//
// Slot.Release is idempotent: the first call returns capacity, later calls do
// nothing. Each slot carries its own sliding one-second window used by
// RateCheck to enforce MaxMessageRate units per second (0 disables it).
//
// # Idle reaper
//
// Run ticks every ReaperInterval and calls Sweep, which expires sessions whose
// last activity is IdleTimeout or more in the past and releases their slots.
// The owning call notices through Session.Reaped and ends with
// stream_idle_timeout.
//
//	mgr := backpressure.NewManager(backpressure.Params{
//	    Config:   backpressure.Config{MaxConcurrentStreams: 50, MaxMessageRate: 20, IdleTimeout: 5 * time.Minute},
//	    Registry: registry,
//	    Logger:   logger,
//	})
//	go mgr.Run(ctx)
package backpressure
