package director

// ChildExit records how one supervised child process ended.
type ChildExit struct {
	Name     string
	ExitCode int
	Crashed  bool
}

// RunReport summarizes one completed simulation run for the final log
// line — the spec calls for no persistence, so this is observational
// only, never written to disk.
type RunReport struct {
	Children []ChildExit
}

// emitRunReport logs the final summary: termination reason, elapsed
// simulated days, and aggregate counters straight from the shared
// region's stats block.
func (d *Director) emitRunReport() {
	stats := d.region.Hdr().Stats
	d.logger.Info().
		Str("reason", string(d.Reason())).
		Int("days_elapsed", d.day).
		Uint64("tickets_issued", stats.TicketsIssued).
		Uint64("services_completed", stats.ServicesCompleted).
		Uint64("users_spawned", stats.UsersSpawned).
		Uint64("protocol_errors", stats.ProtocolErrors).
		Uint64("load_balance_checks", d.region.Hdr().LoadBalance.ChecksPerformed).
		Uint64("load_balance_rebalances", d.region.Hdr().LoadBalance.RebalancesTriggered).
		Int("children", len(d.report.Children)).
		Msg("simulation run complete")

	for _, c := range d.report.Children {
		d.logger.Info().Str("child", c.Name).Int("exit_code", c.ExitCode).Bool("crashed", c.Crashed).Msg("child process summary")
	}
}
