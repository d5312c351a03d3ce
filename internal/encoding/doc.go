// Package encoding turns a chunk and its rate-control decision into encoder
// commands, runs them as ffmpeg | aomenc (or vpxenc) pipes, reports live frame
// progress, and records the chunk in the ledger once its encoded frame count
// matches the source.
package encoding
