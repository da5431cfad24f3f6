// Package memory provides the in-memory fleet used by the planner in development, in tests
// and as the working copy of the PostgreSQL inventory.
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

// NodeRepository is an in-memory store of nodes.
type NodeRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.Node
}

// NewNodeRepository creates a new in-memory node repository.
func NewNodeRepository() *NodeRepository {
	return &NodeRepository{
		data: make(map[string]*domain.Node),
	}
}

// Create stores a new node.
func (r *NodeRepository) Create(ctx context.Context, n *domain.Node) (*domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if _, exists := r.data[n.ID]; exists {
		return nil, domain.ErrAlreadyExists
	}
	for _, existing := range r.data {
		if existing.Hostname == n.Hostname {
			return nil, domain.ErrAlreadyExists
		}
	}

	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	stored := cloneNode(n)
	r.data[stored.ID] = stored

	return cloneNode(stored), nil
}

// Get retrieves a node by ID.
func (r *NodeRepository) Get(ctx context.Context, id string) (*domain.Node, error) {
	n, ok := r.lookup(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return n, nil
}

// List returns every node in ID order.
func (r *NodeRepository) List(ctx context.Context) ([]*domain.Node, error) {
	return r.all(), nil
}

// Update replaces an existing node.
func (r *NodeRepository) Update(ctx context.Context, n *domain.Node) (*domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[n.ID]; !ok {
		return nil, domain.ErrNotFound
	}

	n.UpdatedAt = time.Now()
	stored := cloneNode(n)
	r.data[n.ID] = stored

	return cloneNode(stored), nil
}

// UpdateLoad records a new load sample, keeping the previous available memory reading.
func (r *NodeRepository) UpdateLoad(ctx context.Context, id string, load domain.NodeLoad) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}

	load.PreviousAvailableMemoryMiB = n.Status.Load.AvailableMemoryMiB
	now := time.Now()
	n.Status.Load = load
	n.LastHeartbeat = &now
	n.UpdatedAt = now

	return nil
}

// Delete removes a node by ID.
func (r *NodeRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.data, id)
	return nil
}

func (r *NodeRepository) lookup(id string) (*domain.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.data[id]
	if !ok {
		return nil, false
	}
	return cloneNode(n), true
}

func (r *NodeRepository) all() []*domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Node, 0, len(r.data))
	for _, n := range r.data {
		result = append(result, cloneNode(n))
	}
	slices.SortFunc(result, func(a, b *domain.Node) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

func nodeIndex(nodes []*domain.Node) map[string]*domain.Node {
	data := make(map[string]*domain.Node, len(nodes))
	for _, n := range nodes {
		data[n.ID] = cloneNode(n)
	}
	return data
}

func cloneNode(n *domain.Node) *domain.Node {
	if n == nil {
		return nil
	}

	clone := *n

	if n.Labels != nil {
		clone.Labels = make(map[string]string, len(n.Labels))
		for k, v := range n.Labels {
			clone.Labels[k] = v
		}
	}

	if n.LastHeartbeat != nil {
		t := *n.LastHeartbeat
		clone.LastHeartbeat = &t
	}
	if n.Status.Info != nil {
		si := *n.Status.Info
		clone.Status.Info = &si
	}

	return &clone
}
