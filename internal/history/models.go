package history

import "time"

// StatusRunning marks a run that has not finished. Finished runs carry one of
// the services.Outcome values.
const StatusRunning = "running"

// Run is one invocation of a job.
type Run struct {
	ID          string
	SourcePath  string
	OutputPath  string
	TempDir     string
	Encoder     string
	QualityMode string
	Status      string
	Resumed     bool
	Workers     int
	Chunks      int
	TotalFrames int
	DoneFrames  int
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration returns the wall time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Chunk is the outcome of one chunk within a run.
type Chunk struct {
	Name    string
	Result  string
	Frames  int
	CQ      int
	Reason  string
	Elapsed time.Duration
	Error   string
}
