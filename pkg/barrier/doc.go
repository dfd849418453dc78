// Package barrier implements the day-start rollover protocol described for
// the shared region's BarrierBlock: the Director resets ready_count, flips
// barrier_active, and waits for every registered participant (one Ticket
// Issuer, one Users Manager, one Worker-host) to join before releasing
// them into the new day. Participants track the last day they
// acknowledged so MaybeJoin is a no-op between rollovers.
package barrier
