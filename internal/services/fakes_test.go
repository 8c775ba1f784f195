package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lllllllleong/extractionjobs/internal/engine"
	"github.com/Lllllllleong/extractionjobs/internal/models"
)

// fakeStore mirrors the conditional-write semantics of the Firestore store.
type fakeStore struct {
	mu          sync.Mutex
	jobs        map[string]models.Job
	refs        map[string]string
	writes      int
	terminalOps int
	getErr      error
	recordErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]models.Job{}, refs: map[string]string{}}
}

func (s *fakeStore) PutIfAbsent(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; ok {
		return models.ErrAlreadyExists
	}
	s.jobs[job.JobID] = *job
	s.writes++
	return nil
}

func (s *fakeStore) RecordExternalRef(_ context.Context, jobID, ref string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if owner, ok := s.refs[ref]; ok && owner != jobID {
		return nil, models.ErrRefCollision
	}
	if job.Status.IsTerminal() {
		return &job, nil
	}
	s.refs[ref] = jobID
	job.ExternalJobRef = ref
	if job.Status.CanTransitionTo(models.StatusInProgress) {
		job.Status = models.StatusInProgress
		job.UpdatedAt = job.NextUpdateTime(time.Now())
	}
	s.jobs[jobID] = job
	s.writes++
	return &job, nil
}

func (s *fakeStore) FindByExternalRef(ctx context.Context, ref string) (*models.Job, error) {
	s.mu.Lock()
	jobID, ok := s.refs[ref]
	s.mu.Unlock()
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.Get(ctx, jobID)
}

func (s *fakeStore) UpdateTerminal(_ context.Context, jobID string, status models.JobStatus, outcome models.Outcome) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return &job, false, nil
	}
	job.Status = status
	job.UpdatedAt = job.NextUpdateTime(time.Now())
	job.PageCount = outcome.PageCount
	if status == models.StatusSucceeded {
		job.ExtractedText = outcome.ExtractedText
		job.OutputURI = outcome.OutputURI
	} else {
		job.ErrorDetail = outcome.ErrorDetail
	}
	s.jobs[jobID] = job
	s.writes++
	s.terminalOps++
	return &job, true, nil
}

func (s *fakeStore) Get(_ context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &job, nil
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// fakeEngine returns canned results keyed by external reference.
type fakeEngine struct {
	mu         sync.Mutex
	nextRef    int
	startErr   error
	blockStart bool
	results    map[string]*engine.Result
	fetchErr   error
	starts     int
	fetches    int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{results: map[string]*engine.Result{}}
}

func (e *fakeEngine) Start(ctx context.Context, _, _ string) (string, error) {
	e.mu.Lock()
	e.starts++
	e.nextRef++
	ref := fmt.Sprintf("exec-%d", e.nextRef)
	block, err := e.blockStart, e.startErr
	e.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (e *fakeEngine) Fetch(_ context.Context, ref string) (*engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetches++
	if e.fetchErr != nil {
		return nil, e.fetchErr
	}
	res, ok := e.results[ref]
	if !ok {
		return nil, fmt.Errorf("%w: no result for %s", models.ErrTransientIO, ref)
	}
	return res, nil
}

// fakeDispatcher records dispatched jobs.
type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []models.Job
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job *models.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, *job)
	return d.err
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// fakeSaver records saved text.
type fakeSaver struct {
	err   error
	saved map[string]string
}

func (s *fakeSaver) SaveText(_ context.Context, jobID, text string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.saved == nil {
		s.saved = map[string]string{}
	}
	s.saved[jobID] = text
	return "gs://out/extracted/" + jobID + ".txt", nil
}
