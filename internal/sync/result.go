package sync

import "fmt"

// Stats counts what one run did. The counters are per-run only and never
// persisted.
type Stats struct {
	Added    int
	Modified int
	Deleted  int
	Errors   int
}

// Failed reports whether the run should be treated as failed. Individual
// event failures do not stop a run, but any of them marks the whole run
// failed.
func (s Stats) Failed() bool {
	return s.Errors > 0
}

// Summary renders the counters for log and console output.
func (s Stats) Summary() string {
	return fmt.Sprintf("added=%d modified=%d deleted=%d errors=%d",
		s.Added, s.Modified, s.Deleted, s.Errors)
}

func (s *Stats) merge(other Stats) {
	s.Added += other.Added
	s.Modified += other.Modified
	s.Deleted += other.Deleted
	s.Errors += other.Errors
}

// ConnectivityError reports that a calendar was entirely unreachable. It is
// fatal: a run aborts before any mutation rather than misreading an empty
// fetch as mass deletion.
type ConnectivityError struct {
	Calendar string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("calendar %s unreachable: %v", e.Calendar, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}
