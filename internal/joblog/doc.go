// Package joblog reads the JSON-lines log a job writes into its temp
// directory. Tail returns the last lines or follows new ones from an offset;
// Parse and Filter turn lines into records that the CLI prints.
package joblog
