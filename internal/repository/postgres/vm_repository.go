package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/domain"
)

const vmColumns = `
	id, name, project_id, labels, spec, state, node_id, os,
	resources, tracking_job_id, action_job_ids, created_at, updated_at`

// VMRepository reads and writes virtual machines.
type VMRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewVMRepository creates a new PostgreSQL VM repository.
func NewVMRepository(db *DB, logger *zap.Logger) *VMRepository {
	return &VMRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "vm")),
	}
}

// Upsert stores, inside tx, a VM, replacing the row with the same ID.
func (r *VMRepository) Upsert(ctx context.Context, tx pgx.Tx, vm *domain.VirtualMachine) error {
	labelsJSON, err := json.Marshal(vm.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	specJSON, err := json.Marshal(vm.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}
	resourcesJSON, err := json.Marshal(vm.Status.Resources)
	if err != nil {
		return fmt.Errorf("failed to marshal resources: %w", err)
	}

	actionJobIDs := vm.Status.ActionJobIDs
	if actionJobIDs == nil {
		actionJobIDs = []string{}
	}

	query := `
		INSERT INTO vms (id, name, project_id, labels, spec, state, node_id, os, resources, tracking_job_id, action_job_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			project_id = EXCLUDED.project_id,
			labels = EXCLUDED.labels,
			spec = EXCLUDED.spec,
			state = EXCLUDED.state,
			node_id = EXCLUDED.node_id,
			os = EXCLUDED.os,
			resources = EXCLUDED.resources,
			tracking_job_id = EXCLUDED.tracking_job_id,
			action_job_ids = EXCLUDED.action_job_ids,
			updated_at = now()
		RETURNING created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		vm.ID,
		vm.Name,
		vm.ProjectID,
		labelsJSON,
		specJSON,
		string(vm.Status.State),
		nullString(vm.Status.NodeID),
		vm.Status.OS,
		resourcesJSON,
		nullString(vm.Status.TrackingJobID),
		actionJobIDs,
	).Scan(&vm.CreatedAt, &vm.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert VM", zap.Error(err), zap.String("vm_id", vm.ID))
		return fmt.Errorf("failed to upsert vm: %w", err)
	}
	return nil
}

// List returns every VM ordered by ID.
func (r *VMRepository) List(ctx context.Context) ([]*domain.VirtualMachine, error) {
	rows, err := r.db.pool.Query(ctx, "SELECT"+vmColumns+" FROM vms ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list vms: %w", err)
	}
	defer rows.Close()

	var vms []*domain.VirtualMachine
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, err
		}
		vms = append(vms, vm)
	}
	return vms, rows.Err()
}

// AttachActionJob appends a job to the VM's action jobs inside tx.
func (r *VMRepository) AttachActionJob(ctx context.Context, tx pgx.Tx, vmID, jobID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE vms
		SET action_job_ids = array_append(action_job_ids, $2), updated_at = now()
		WHERE id = $1
	`, vmID, jobID)
	if err != nil {
		return fmt.Errorf("failed to attach job to vm: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("vm %s: %w", vmID, domain.ErrNotFound)
	}
	return nil
}

func scanVM(row pgx.Row) (*domain.VirtualMachine, error) {
	vm := &domain.VirtualMachine{}
	var labelsJSON, specJSON, resourcesJSON []byte
	var nodeID, trackingJobID *string
	var state string

	if err := row.Scan(
		&vm.ID,
		&vm.Name,
		&vm.ProjectID,
		&labelsJSON,
		&specJSON,
		&state,
		&nodeID,
		&vm.Status.OS,
		&resourcesJSON,
		&trackingJobID,
		&vm.Status.ActionJobIDs,
		&vm.CreatedAt,
		&vm.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan vm: %w", err)
	}

	vm.Status.State = domain.VMState(state)
	vm.Status.NodeID = stringOf(nodeID)
	vm.Status.TrackingJobID = stringOf(trackingJobID)

	if err := unmarshalJSON(labelsJSON, &vm.Labels); err != nil {
		return nil, fmt.Errorf("vm %s labels: %w", vm.ID, err)
	}
	if err := unmarshalJSON(specJSON, &vm.Spec); err != nil {
		return nil, fmt.Errorf("vm %s spec: %w", vm.ID, err)
	}
	if err := unmarshalJSON(resourcesJSON, &vm.Status.Resources); err != nil {
		return nil, fmt.Errorf("vm %s resources: %w", vm.ID, err)
	}
	return vm, nil
}
