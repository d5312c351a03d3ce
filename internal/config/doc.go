// Package config loads, normalizes, and validates qencode job configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and lets callers apply command-line overrides
// before normalization runs. The Config type is the immutable snapshot every
// pipeline stage reads: it is built once per job and shared by pointer, and no
// stage mutates it afterwards.
//
// Quality control and splitting are expressed as enumerated modes rather than
// boolean combinations so invalid pairings (for example brightness boost with
// bitrate rate control) are rejected up front by Validate.
package config
