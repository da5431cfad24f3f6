package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/domain"
)

const nodeColumns = `
	id, hostname, management_ip, cluster_id, labels, spec,
	phase, load, created_at, updated_at, last_heartbeat`

// NodeRepository reads and writes hypervisor nodes.
type NodeRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewNodeRepository creates a new PostgreSQL node repository.
func NewNodeRepository(db *DB, logger *zap.Logger) *NodeRepository {
	return &NodeRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "node")),
	}
}

// Upsert stores, inside tx, a node, replacing the row with the same ID.
func (r *NodeRepository) Upsert(ctx context.Context, tx pgx.Tx, n *domain.Node) error {
	labelsJSON, err := json.Marshal(n.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	specJSON, err := json.Marshal(n.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}
	loadJSON, err := json.Marshal(n.Status.Load)
	if err != nil {
		return fmt.Errorf("failed to marshal load: %w", err)
	}

	query := `
		INSERT INTO nodes (id, hostname, management_ip, cluster_id, labels, spec, phase, load, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			management_ip = EXCLUDED.management_ip,
			cluster_id = EXCLUDED.cluster_id,
			labels = EXCLUDED.labels,
			spec = EXCLUDED.spec,
			phase = EXCLUDED.phase,
			load = EXCLUDED.load,
			last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = now()
		RETURNING created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		n.ID,
		n.Hostname,
		n.ManagementIP,
		nullString(n.ClusterID),
		labelsJSON,
		specJSON,
		string(n.Status.Phase),
		loadJSON,
		n.LastHeartbeat,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to upsert node", zap.Error(err), zap.String("hostname", n.Hostname))
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	return nil
}

// List returns every node ordered by ID.
func (r *NodeRepository) List(ctx context.Context) ([]*domain.Node, error) {
	rows, err := r.db.pool.Query(ctx, "SELECT"+nodeColumns+" FROM nodes ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func scanNode(row pgx.Row) (*domain.Node, error) {
	n := &domain.Node{}
	var labelsJSON, specJSON, loadJSON []byte
	var clusterID *string
	var phase string

	if err := row.Scan(
		&n.ID,
		&n.Hostname,
		&n.ManagementIP,
		&clusterID,
		&labelsJSON,
		&specJSON,
		&phase,
		&loadJSON,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.LastHeartbeat,
	); err != nil {
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	n.ClusterID = stringOf(clusterID)
	n.Status.Phase = domain.NodePhase(phase)

	if err := unmarshalJSON(labelsJSON, &n.Labels); err != nil {
		return nil, fmt.Errorf("node %s labels: %w", n.ID, err)
	}
	if err := unmarshalJSON(specJSON, &n.Spec); err != nil {
		return nil, fmt.Errorf("node %s spec: %w", n.ID, err)
	}
	if err := unmarshalJSON(loadJSON, &n.Status.Load); err != nil {
		return nil, fmt.Errorf("node %s load: %w", n.ID, err)
	}
	return n, nil
}

func unmarshalJSON(data []byte, dest any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
