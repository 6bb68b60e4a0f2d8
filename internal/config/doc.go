// Package config defines the cmdsource configuration record and how it
// is assembled.
//
// Configuration is layered, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  4. Command line flags      │  ← Highest priority
//	├─────────────────────────────┤
//	│  3. Environment variables   │  ← CMDSOURCE_*
//	├─────────────────────────────┤
//	│  2. Configuration file      │  ← TOML
//	├─────────────────────────────┤
//	│  1. Built-in defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Each layer is a map merged with loader.DeepMerge and then decoded
// into a Config. A host that already holds an argument record passes it
// as LoadOptions.Overrides with SkipEnv set.
//
// # File format
//
//	command = "cd ansible-eda-go && ./closed-loop"
//	repository = "https://github.com/nleiva/ansible-eda-go"
//	send_output = true
//	deserialize = false
//	drain_timeout = "5s"
//
//	[log]
//	level = "debug"
//	format = "json"
package config
