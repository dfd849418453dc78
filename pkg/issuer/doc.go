// Package issuer implements the Ticket Issuer described in the top-level
// design: a local Unix domain socket front end, one request/response per
// connection, dispatched to a fixed-size handler pool. On Linux the
// accept loop is driven by a single-fd epoll set in edge-triggered mode
// (accept_linux.go); elsewhere it falls back to a plain net.Listener with
// a polling deadline (accept_other.go). Either way the accept thread
// checks for shutdown and joins the day-start barrier between poll
// cycles, and handlers never hold the shared ticket sequence across I/O.
package issuer
