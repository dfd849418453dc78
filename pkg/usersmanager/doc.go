// Package usersmanager implements the Users Manager (spec §4.8): a slot
// pool of user agents reconciled toward a target population, with
// signal-driven batch add/remove (USR1 raises, USR2 lowers) and identical
// day-barrier participation to the Ticket Issuer and worker hosts.
package usersmanager
