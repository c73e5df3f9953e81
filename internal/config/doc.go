// Package config defines the format-agnostic model of a test plan: execution
// blocks, scenarios, service hooks, the local monitoring module, and pass/fail
// reporting. Format-specific parsing lives behind the Loader interface.
package config
