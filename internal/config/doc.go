// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads, validates and watches the kai configuration.
//
// # Configuration Precedence
//
// Values are resolved from (highest first):
//   - Environment variables (KAI_*)
//   - A .env file next to config.toml, then in the working directory
//   - ~/.kai/config.toml (KAI_HOME moves the directory)
//   - Built-in defaults
//
// # Example
//
//	data_dir = "/var/lib/kai"
//	request_timeout = "30s"
//
//	[log]
//	level = "debug"
//
//	[settings]
//	backend = "sqlite"
//	secrets = "keyring"
//
//	[providers.ollama]
//	base_url = "http://gpu-box:11434"
//
//	[providers.free]
//	requests_per_minute = 0
package config
