package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/domain"
	"github.com/limiquantix/vmmigrate/internal/repository/memory"
)

// FleetStore keeps an in-memory fleet in sync with the database and records migration jobs.
// The planner reads the in-memory copy; Refresh reloads it before every pass.
type FleetStore struct {
	db     *DB
	fleet  *memory.Fleet
	nodes  *NodeRepository
	vms    *VMRepository
	jobs   *JobRepository
	logger *zap.Logger
}

// NewFleetStore creates a store that loads into fleet.
func NewFleetStore(db *DB, fleet *memory.Fleet, logger *zap.Logger) *FleetStore {
	return &FleetStore{
		db:     db,
		fleet:  fleet,
		nodes:  NewNodeRepository(db, logger),
		vms:    NewVMRepository(db, logger),
		jobs:   NewJobRepository(db, logger),
		logger: logger.With(zap.String("component", "fleet_store")),
	}
}

// Refresh replaces the in-memory fleet with the database contents. Only pending and active
// jobs are loaded; finished jobs never affect planning.
func (s *FleetStore) Refresh(ctx context.Context) error {
	nodes, err := s.nodes.List(ctx)
	if err != nil {
		return err
	}
	vms, err := s.vms.List(ctx)
	if err != nil {
		return err
	}
	jobs, err := s.jobs.ListActive(ctx)
	if err != nil {
		return err
	}

	s.fleet.Replace(nodes, vms, jobs)
	s.logger.Debug("Fleet refreshed",
		zap.Int("nodes", len(nodes)),
		zap.Int("vms", len(vms)),
		zap.Int("active_jobs", len(jobs)),
	)
	return nil
}

// SubmitMigrationJob inserts an active migration job and attaches it to the VM in one
// transaction.
func (s *FleetStore) SubmitMigrationJob(ctx context.Context, vm *domain.VirtualMachine, destinationNodeID, cause string) error {
	if vm.Status.NodeID == destinationNodeID {
		return fmt.Errorf("vm %s already runs on node %s: %w", vm.ID, destinationNodeID, domain.ErrInvalidArgument)
	}

	job := &domain.Job{
		Type:              domain.JobTypeVMMigrate,
		State:             domain.JobStateActive,
		VMID:              vm.ID,
		SourceNodeID:      vm.Status.NodeID,
		DestinationNodeID: destinationNodeID,
		Cause:             cause,
	}

	err := pgx.BeginFunc(ctx, s.db.pool, func(tx pgx.Tx) error {
		if err := s.jobs.Create(ctx, tx, job); err != nil {
			return err
		}
		return s.vms.AttachActionJob(ctx, tx, vm.ID, job.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to submit migration job: %w", err)
	}

	s.logger.Info("Migration job submitted",
		zap.String("job_id", job.ID),
		zap.String("vm_id", vm.ID),
		zap.String("destination_node_id", destinationNodeID),
	)
	return nil
}

// Import writes every node, job and VM of src to the database.
func (s *FleetStore) Import(ctx context.Context, src *memory.Fleet) error {
	err := pgx.BeginFunc(ctx, s.db.pool, func(tx pgx.Tx) error {
		for _, n := range src.ListNodes() {
			if err := s.nodes.Upsert(ctx, tx, n); err != nil {
				return err
			}
		}
		jobs, err := src.Jobs().List(ctx)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if err := s.jobs.Upsert(ctx, tx, job); err != nil {
				return err
			}
		}
		for _, vm := range src.ListVMs() {
			if err := s.vms.Upsert(ctx, tx, vm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to import fleet: %w", err)
	}

	s.logger.Info("Fleet imported", zap.Int("nodes", len(src.ListNodes())), zap.Int("vms", len(src.ListVMs())))
	return nil
}
