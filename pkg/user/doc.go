// Package user implements the per-user agent lifecycle (spec §4.6): a
// user connects to the Ticket Issuer, waits out closed office hours on
// the shared clock's tick condition variable, requests a ticket, then
// watches the assigned service queue until a worker starts and finishes
// serving it — optionally looping N_REQUESTS times — with every blocking
// step bounded by a cooperative cancellation flag.
package user
