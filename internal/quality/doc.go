// Package quality decides the rate-control value each chunk is encoded with.
//
// Three strategies share the Strategy interface: Fixed returns the configured
// CQ or bitrate, Boost lowers the CQ for dark chunks based on their mean
// luma, and TargetSearch probes a handful of CQ values against a lossless
// reference and picks the CQ whose interpolated VMAF score lands closest to
// the target.
package quality
