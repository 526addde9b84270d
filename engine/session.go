package engine

import (
	"context"
	"sync"
)

// Querier runs one query. *Engine implements it.
type Querier interface {
	Query(ctx context.Context, input string, caller map[string]string) Result
}

// Session serialises the queries of one caller, such as a launcher window
// issuing a query per keystroke. Starting a query cancels the one in flight,
// and a superseded query's result is never delivered.
type Session struct {
	q Querier

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewSession returns a Session that runs its queries through q.
func NewSession(q Querier) *Session {
	return &Session{q: q}
}

// begin supersedes the in-flight query and returns the new generation.
func (s *Session) begin(ctx context.Context) (context.Context, uint64, context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	qctx, cancel := context.WithCancel(ctx)
	s.gen++
	s.cancel = cancel
	return qctx, s.gen, cancel
}

// finish clears the cancel func if gen is still current and reports
// whether it was.
func (s *Session) finish(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.cancel = nil
	return true
}

// Query runs input and returns its result. The bool is false when a newer
// query or Cancel superseded this one; the result must then be discarded.
func (s *Session) Query(ctx context.Context, input string, caller map[string]string) (Result, bool) {
	qctx, gen, cancel := s.begin(ctx)
	defer cancel()
	res := s.q.Query(qctx, input, caller)
	if !s.finish(gen) {
		return Result{}, false
	}
	return res, true
}

// Submit runs input in the background and calls fn with the result only if
// the query is still current when it completes. fn runs with the session
// locked, so results are delivered in order; it must not call back into the
// session.
func (s *Session) Submit(input string, caller map[string]string, fn func(Result)) {
	qctx, gen, cancel := s.begin(context.Background())
	go func() {
		defer cancel()
		res := s.q.Query(qctx, input, caller)
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen {
			return
		}
		s.cancel = nil
		fn(res)
	}()
}

// Cancel abandons the in-flight query, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
