/*
main.go - Application entry point

PURPOSE:
  Starts the incentive engine server and exposes a few offline commands
  for inspecting the tier ladder.

COMMANDS:
  serve              Run the HTTP API and the unlock scanner
  evaluate --spend N Place a spend on the ladder and print the result
  tiers [--yaml]     Print the configured ladder

CONFIGURATION:
  --config FILE or INCENTIVE_CONFIG selects a YAML file. Any key can be
  overridden from the environment: INCENTIVE_DB_PATH=":memory:".

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (shutdown_timeout, default 30s)
  3. Stop the scanner
  4. Close the database

EXAMPLES:
  ./server serve --config=./incentive.yaml
  INCENTIVE_DB_PATH=":memory:" ./server serve
  ./server evaluate --spend 7200000

SEE ALSO:
  - config/:       configuration keys
  - api/server.go: router
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
