package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/vmmigrate/internal/domain"
)

// JobRepository is an in-memory store of jobs.
type JobRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.Job
}

// NewJobRepository creates a new in-memory job repository.
func NewJobRepository() *JobRepository {
	return &JobRepository{
		data: make(map[string]*domain.Job),
	}
}

// Create stores a new job.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if _, exists := r.data[job.ID]; exists {
		return nil, domain.ErrAlreadyExists
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	stored := *job
	r.data[stored.ID] = &stored

	clone := stored
	return &clone, nil
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, ok := r.lookup(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// List returns every job in creation order.
func (r *JobRepository) List(ctx context.Context) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Job, 0, len(r.data))
	for _, job := range r.data {
		clone := *job
		result = append(result, &clone)
	}
	slices.SortFunc(result, func(a, b *domain.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

// UpdateState moves a job to a new state.
func (r *JobRepository) UpdateState(ctx context.Context, id string, state domain.JobState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}

	job.State = state
	job.UpdatedAt = time.Now()
	return nil
}

func (r *JobRepository) lookup(id string) (*domain.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.data[id]
	if !ok {
		return nil, false
	}
	clone := *job
	return &clone, true
}

func jobIndex(jobs []*domain.Job) map[string]*domain.Job {
	data := make(map[string]*domain.Job, len(jobs))
	for _, job := range jobs {
		clone := *job
		data[job.ID] = &clone
	}
	return data
}
