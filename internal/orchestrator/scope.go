package orchestrator

import (
	"context"

	"gorm.io/gorm"
)

// Scope is the unit of work shared by one or more creates. Database
// writes are short and commit immediately, so no transaction is held
// while a sandbox starts. Every write and external side effect
// registers a compensation that runs, newest first, if the scope
// fails. Follow-up work registered with OnCommit runs only once the
// whole scope has succeeded.
type Scope struct {
	db            *gorm.DB
	compensations []func(context.Context)
	committed     []func(context.Context)
	releases      []func()
}

// DB returns the scope's database handle.
func (s *Scope) DB() *gorm.DB {
	return s.db
}

// Compensate registers fn to undo a side effect on failure.
func (s *Scope) Compensate(fn func(context.Context)) {
	s.compensations = append(s.compensations, fn)
}

// OnCommit registers fn to run after the scope succeeds.
func (s *Scope) OnCommit(fn func(context.Context)) {
	s.committed = append(s.committed, fn)
}

func (s *Scope) hold(release func()) {
	s.releases = append(s.releases, release)
}

// Scope runs fn. When fn fails, every registered compensation is run
// and the error returned.
func (o *Orchestrator) Scope(ctx context.Context, fn func(*Scope) error) error {
	s := &Scope{db: o.db.WithContext(ctx)}
	defer s.release()

	if err := fn(s); err != nil {
		s.rollback(context.WithoutCancel(ctx))
		return err
	}

	for _, fn := range s.committed {
		fn(ctx)
	}

	return nil
}

func (s *Scope) rollback(ctx context.Context) {
	for i := len(s.compensations) - 1; i >= 0; i-- {
		s.compensations[i](ctx)
	}
}

func (s *Scope) release() {
	for i := len(s.releases) - 1; i >= 0; i-- {
		s.releases[i]()
	}
}
