package queue

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MaheshSundaramurthy/botmetrics/internal/logger"
)

// Fallback logs and drops every job. It backs queue.driver=log for local runs
// without a broker.
type Fallback struct {
	log zerolog.Logger
}

func NewFallback() *Fallback {
	return &Fallback{log: logger.Component("queue")}
}

func (f *Fallback) Submit(ctx context.Context, job string, args ...any) error {
	f.log.Warn().Str("job", job).Interface("args", args).Msg("fallback queue: skipped submit")
	return nil
}

func (f *Fallback) Close() error { return nil }

// Submission is one job accepted by a Recorder.
type Submission struct {
	Job           string
	Args          []any
	CorrelationID string
}

// Recorder keeps submitted jobs in memory. Err, when set, is returned from
// Submit once Accept jobs have been recorded; rejected jobs are not recorded.
type Recorder struct {
	mu     sync.Mutex
	subs   []Submission
	Err    error
	Accept int
}

func (r *Recorder) Submit(ctx context.Context, job string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil && len(r.subs) >= r.Accept {
		return r.Err
	}
	cid, _ := CorrelationID(ctx)
	r.subs = append(r.subs, Submission{Job: job, Args: args, CorrelationID: cid})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Submissions returns a copy of everything submitted so far.
func (r *Recorder) Submissions() []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Submission, len(r.subs))
	copy(out, r.subs)
	return out
}

// Jobs returns the submissions for one job name.
func (r *Recorder) Jobs(job string) []Submission {
	var out []Submission
	for _, s := range r.Submissions() {
		if s.Job == job {
			out = append(out, s)
		}
	}
	return out
}
