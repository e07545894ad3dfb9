// Package config loads Quarry's YAML configuration: data directory,
// buffer pool and page sizing, per-driver cache pages, lock timeout and
// deadlock detection flags, and the executor worker count with its
// "CPU - N" syntax.
package config
