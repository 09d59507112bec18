// Command curator is the command-line client for the curator daemon.
//
// Every subcommand except `daemon` and `config init` talks to a running
// daemon over its HTTP API. Output is a table or a short summary by default;
// pass --json for machine-readable output.
package main
