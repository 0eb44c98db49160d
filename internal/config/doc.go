// Package config handles configuration loading for tabrelay.
//
// # Overview
//
// Both the relay host and the caller read the same file so that they agree on
// mailbox locations and protocol timing. Mailbox paths are explicit
// configuration, never process-wide globals.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TABRELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/tabrelay/config.yaml
//  3. ~/.config/tabrelay/config.yaml
//
// A missing file is not an error: LoadOrDefault returns Default(). Files with a
// .toml extension are decoded as TOML, anything else as YAML.
//
// # Environment Variable Expansion
//
//	mailbox:
//	  command_path: "${TMPDIR}/tab-manager-cmd.json"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	relay:
//	  tick_interval: "50ms"
//	  staleness: "30s"
//	caller:
//	  timeout: "10s"
//	  poll_interval: "200ms"
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
