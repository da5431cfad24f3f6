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

// VMRepository is an in-memory store of virtual machines.
type VMRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.VirtualMachine
}

// NewVMRepository creates a new in-memory VM repository.
func NewVMRepository() *VMRepository {
	return &VMRepository{
		data: make(map[string]*domain.VirtualMachine),
	}
}

// Create stores a new virtual machine.
func (r *VMRepository) Create(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if vm.ID == "" {
		vm.ID = uuid.New().String()
	}
	if _, exists := r.data[vm.ID]; exists {
		return nil, domain.ErrAlreadyExists
	}

	// Names are unique within a project.
	for _, existing := range r.data {
		if existing.ProjectID == vm.ProjectID && existing.Name == vm.Name {
			return nil, domain.ErrAlreadyExists
		}
	}

	now := time.Now()
	if vm.CreatedAt.IsZero() {
		vm.CreatedAt = now
	}
	vm.UpdatedAt = now

	stored := cloneVM(vm)
	r.data[stored.ID] = stored

	return cloneVM(stored), nil
}

// Get retrieves a virtual machine by ID.
func (r *VMRepository) Get(ctx context.Context, id string) (*domain.VirtualMachine, error) {
	vm, ok := r.lookup(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return vm, nil
}

// List returns every virtual machine in ID order.
func (r *VMRepository) List(ctx context.Context) ([]*domain.VirtualMachine, error) {
	return r.filter(func(*domain.VirtualMachine) bool { return true }), nil
}

// ListByNode returns the virtual machines resident on a node in ID order.
func (r *VMRepository) ListByNode(ctx context.Context, nodeID string) ([]*domain.VirtualMachine, error) {
	return r.onNode(nodeID), nil
}

// UpdateStatus replaces the status of a virtual machine.
func (r *VMRepository) UpdateStatus(ctx context.Context, id string, status domain.VMStatus) error {
	return r.mutate(id, func(vm *domain.VirtualMachine) {
		vm.Status = status
		vm.Status.ActionJobIDs = append([]string(nil), status.ActionJobIDs...)
	})
}

// Delete removes a virtual machine by ID.
func (r *VMRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.data, id)
	return nil
}

func (r *VMRepository) mutate(id string, fn func(vm *domain.VirtualMachine)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vm, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}

	fn(vm)
	vm.UpdatedAt = time.Now()
	return nil
}

func (r *VMRepository) lookup(id string) (*domain.VirtualMachine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vm, ok := r.data[id]
	if !ok {
		return nil, false
	}
	return cloneVM(vm), true
}

func (r *VMRepository) onNode(nodeID string) []*domain.VirtualMachine {
	return r.filter(func(vm *domain.VirtualMachine) bool {
		return vm.Status.NodeID == nodeID
	})
}

func (r *VMRepository) filter(keep func(*domain.VirtualMachine) bool) []*domain.VirtualMachine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.VirtualMachine
	for _, vm := range r.data {
		if keep(vm) {
			result = append(result, cloneVM(vm))
		}
	}
	slices.SortFunc(result, func(a, b *domain.VirtualMachine) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

func vmIndex(vms []*domain.VirtualMachine) map[string]*domain.VirtualMachine {
	data := make(map[string]*domain.VirtualMachine, len(vms))
	for _, vm := range vms {
		data[vm.ID] = cloneVM(vm)
	}
	return data
}

func cloneVM(vm *domain.VirtualMachine) *domain.VirtualMachine {
	if vm == nil {
		return nil
	}

	clone := *vm

	if vm.Labels != nil {
		clone.Labels = make(map[string]string, len(vm.Labels))
		for k, v := range vm.Labels {
			clone.Labels[k] = v
		}
	}
	clone.Status.ActionJobIDs = append([]string(nil), vm.Status.ActionJobIDs...)

	return &clone
}
