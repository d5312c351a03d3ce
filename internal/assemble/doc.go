// Package assemble extracts the source audio before encoding, joins the
// encoded chunks into the output container afterwards, and disposes of the
// temp directory once a job has finished.
package assemble
