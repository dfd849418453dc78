/*
Package log provides structured logging for every post office role process
using zerolog.

Each of the Director, Ticket Issuer, Work Broker, worker host, and Users
Manager processes calls log.Init once from its cmd/ entrypoint, then derives
a component logger with WithRole and, where useful, WithRun, WithTicket,
WithServiceType, or WithWorkerID so that log lines from a single simulation
run can be correlated and filtered regardless of which OS process emitted
them.

# Configuration

Level is one of debug/info/warn/error. JSONOutput selects JSON-lines
output (suitable for headless/scripted runs) versus a human-readable
zerolog.ConsoleWriter (suitable for interactive runs). Output defaults to
stdout.
*/
package log
