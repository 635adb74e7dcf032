/*
Package log provides structured logging for the Ankaios server, agent,
and CLI using zerolog.

Init configures a package-level global logger from a Config (Level,
JSONOutput), defaulting to a human-readable console writer unless
JSONOutput is set, which is how the server and agent binaries run in
production while leaving the console format available for local
development.

# Component Loggers

	log.WithComponent("ank-server")      a logger tagged with a static component name
	log.WithAgentName(name)              a logger tagged with the running agent's name
	log.WithWorkload(workloadName)        a logger tagged with a workload_name field, so
	                                       a workload's lines can be filtered out of one
	                                       process's logs

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithAgentName("agent-a")
	logger.Info().Str("workload", "nginx").Msg("applying delta")

Package-level Info/Debug/Warn/Error/Fatal helpers log against the
global logger directly, for call sites that have no component context
worth tagging.
*/
package log
