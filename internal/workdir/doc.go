// Package workdir owns the per-job temp directory: its fixed layout, creation
// and reuse on resume, removal after a successful job, and sweeping of
// abandoned job directories.
//
// Layout:
//
//	<root>/split/NNNN.mkv     stream-copied source chunks
//	<root>/encode/NNNN.ivf    encoded chunks
//	<root>/encode/NNNN.fpf    first-pass statistics
//	<root>/probes/NNNN/       quality probes for one chunk
//	<root>/done.json          progress ledger
//	<root>/audio.mkv          extracted audio
//	<root>/scenes.txt         final cut list
//	<root>/concat.txt         concat demuxer list
//	<root>/log.log            job log
package workdir
