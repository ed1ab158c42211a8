// Package main provides the CLI entry point for the relaycore agent
// orchestration core.
//
// # Basic Usage
//
// Inspect stored credentials:
//
//	relaycore credential list
//	relaycore credential resolve openai-codex --session S1
//
// Run a task batch from a JSON file:
//
//	relaycore dispatch run --batch batch.json
//
// Try the line editor in the terminal:
//
//	relaycore editor-demo
//
// # Environment Variables
//
//   - RELAYCORE_CONFIG: Path to configuration file (default: relaycore.yaml)
//   - RELAYCORE_LOG_LEVEL: debug|info|warn|error
//   - RELAYCORE_CREDENTIAL_DB: SQLite credential database path
//   - RELAYCORE_OTLP_ENDPOINT: OTLP collector address for tracing
//   - <PROVIDER>_API_KEY: per-provider API key fallback
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
