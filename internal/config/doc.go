// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration.
//
// Precedence is defaults, then the YAML file (strict: unknown keys fail),
// then LAVASYNC_* environment variables. The result is validated as a whole
// and every problem is reported at once. Holder keeps the live config and
// reloads it on file change or SIGHUP.
package config
