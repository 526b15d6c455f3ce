package node

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wukong-iot/wkpf-gateway/internal/wkpf"
)

// Repository defines the interface for node directory persistence.
type Repository interface {
	// Register records a node heard at addr. A known address keeps its ID
	// and has its name and last-seen time refreshed; a new address is
	// assigned the lowest free ID.
	Register(ctx context.Context, name, addr string, seen time.Time) (*Node, error)

	Get(ctx context.Context, id uint8) (*Node, error)
	GetByAddress(ctx context.Context, addr string) (*Node, error)
	List(ctx context.Context) ([]Node, error)

	SetLocation(ctx context.Context, id uint8, path string) error
	SetInventory(ctx context.Context, id uint8, classes []uint16, objects []wkpf.ObjectEntry) error
	Touch(ctx context.Context, id uint8, seen time.Time) error
	Delete(ctx context.Context, id uint8) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed node repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const nodeColumns = `id, name, host, port, location, classes, objects,
	last_seen, created_at, updated_at`

// Register inserts or refreshes the node at addr.
func (r *SQLiteRepository) Register(ctx context.Context, name, addr string, seen time.Time) (*Node, error) {
	host, port, err := SplitAddress(addr)
	if err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("registering %s: %w", addr, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var id int
	err = tx.QueryRowContext(ctx, "SELECT id FROM nodes WHERE host = ? AND port = ?", host, port).Scan(&id)
	switch {
	case err == nil:
		const update = `UPDATE nodes SET name = ?, last_seen = ?,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
			WHERE id = ?`
		if _, err := tx.ExecContext(ctx, update, name, formatTime(seen), id); err != nil {
			return nil, fmt.Errorf("updating node %d: %w", id, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		id, err = nextFreeID(ctx, tx)
		if err != nil {
			return nil, err
		}
		const insert = `INSERT INTO nodes (id, name, host, port, last_seen)
			VALUES (?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insert, id, name, host, port, formatTime(seen)); err != nil {
			return nil, fmt.Errorf("inserting node %s: %w", addr, err)
		}
	default:
		return nil, fmt.Errorf("looking up node %s: %w", addr, err)
	}

	n, err := scanNode(tx.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing node %s: %w", addr, err)
	}
	return n, nil
}

// nextFreeID returns the lowest unallocated node ID.
func nextFreeID(ctx context.Context, tx *sql.Tx) (int, error) {
	const query = `SELECT COALESCE(
		(SELECT 1 WHERE NOT EXISTS (SELECT 1 FROM nodes WHERE id = 1)),
		(SELECT MIN(id) + 1 FROM nodes WHERE id + 1 NOT IN (SELECT id FROM nodes)))`
	var id int
	if err := tx.QueryRowContext(ctx, query).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocating node id: %w", err)
	}
	if id > MaxID {
		return 0, fmt.Errorf("%w: %d nodes registered", ErrDirectoryFull, MaxID)
	}
	return id, nil
}

// Get returns a single node by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id uint8) (*Node, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE id = ?", id)
	return scanNode(row)
}

// GetByAddress returns the node registered at "host:port".
func (r *SQLiteRepository) GetByAddress(ctx context.Context, addr string) (*Node, error) {
	host, port, err := SplitAddress(addr)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE host = ? AND port = ?", host, port)
	return scanNode(row)
}

// List returns all nodes ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+nodeColumns+" FROM nodes ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node row: %w", err)
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating node rows: %w", err)
	}
	return nodes, nil
}

// SetLocation validates and stores a node's location path.
func (r *SQLiteRepository) SetLocation(ctx context.Context, id uint8, path string) error {
	loc, err := NormalizeLocation(path)
	if err != nil {
		return err
	}
	const query = `UPDATE nodes SET location = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE id = ?`
	return r.exec(ctx, query, id, loc, id)
}

// SetInventory replaces the cached class and object lists.
func (r *SQLiteRepository) SetInventory(ctx context.Context, id uint8, classes []uint16, objects []wkpf.ObjectEntry) error {
	if classes == nil {
		classes = []uint16{}
	}
	if objects == nil {
		objects = []wkpf.ObjectEntry{}
	}
	classJSON, err := json.Marshal(classes)
	if err != nil {
		return fmt.Errorf("encoding classes: %w", err)
	}
	objectJSON, err := json.Marshal(objects)
	if err != nil {
		return fmt.Errorf("encoding objects: %w", err)
	}
	const query = `UPDATE nodes SET classes = ?, objects = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE id = ?`
	return r.exec(ctx, query, id, string(classJSON), string(objectJSON), id)
}

// Touch records that the node was heard from.
func (r *SQLiteRepository) Touch(ctx context.Context, id uint8, seen time.Time) error {
	return r.exec(ctx, "UPDATE nodes SET last_seen = ? WHERE id = ?", id, formatTime(seen), id)
}

// Delete removes a node from the directory.
func (r *SQLiteRepository) Delete(ctx context.Context, id uint8) error {
	return r.exec(ctx, "DELETE FROM nodes WHERE id = ?", id, id)
}

// exec runs a single-row statement and maps zero affected rows to
// ErrNodeNotFound.
func (r *SQLiteRepository) exec(ctx context.Context, query string, id uint8, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating node %d: %w", id, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	if n == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*Node, error) {
	var n Node
	var classJSON, objectJSON string
	var lastSeen sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&n.ID, &n.Name, &n.Host, &n.Port, &n.Location,
		&classJSON, &objectJSON, &lastSeen, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("scanning node: %w", err)
	}

	// Columns are written only by this package; a decode failure leaves
	// the cache empty so the next refresh repopulates it.
	_ = json.Unmarshal([]byte(classJSON), &n.Classes)  //nolint:errcheck // see above
	_ = json.Unmarshal([]byte(objectJSON), &n.Objects) //nolint:errcheck // see above

	if lastSeen.Valid {
		n.LastSeen = parseTime(lastSeen.String)
	}
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	return &n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses an RFC3339 timestamp, returning the zero time on failure.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
