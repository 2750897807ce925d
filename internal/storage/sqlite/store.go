package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dyike/CareMesh/models"
)

// Store is the contract ledger and session archive.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    initiator TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    status TEXT NOT NULL,
    has_contract INTEGER NOT NULL DEFAULT 0,
    offers_count INTEGER NOT NULL DEFAULT 0,
    snapshot_json TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    kind TEXT NOT NULL,
    payload_json TEXT NOT NULL DEFAULT '{}',
    ts DATETIME NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS contracts (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    requester TEXT NOT NULL,
    supplier TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    total_price TEXT NOT NULL,
    status TEXT NOT NULL,
    contract_json TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_contracts_requester ON contracts(requester, created_at);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// StoreContract records c. Storing the same contract id twice keeps the
// first copy.
func (s *Store) StoreContract(ctx context.Context, c models.Contract) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("contract id is required")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal contract: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO contracts (id, session_id, requester, supplier, resource_type, quantity, total_price, status, contract_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`, c.ID, c.SessionID, c.RequesterID, c.SupplierID, string(c.Resource), c.Quantity, c.TotalPrice.String(), string(c.Status), string(data), c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

// GetContract returns nil when the contract does not exist.
func (s *Store) GetContract(ctx context.Context, id string) (*models.Contract, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("contract id is required")
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT contract_json FROM contracts WHERE id = ? LIMIT 1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get contract: %w", err)
	}
	var c models.Contract
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode contract %s: %w", id, err)
	}
	return &c, nil
}

// ListContracts lists contracts newest first. An empty requester lists all.
func (s *Store) ListContracts(ctx context.Context, requester string, limit int) ([]models.Contract, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT contract_json
FROM contracts
WHERE (? = '' OR requester = ?)
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`, requester, requester, limit)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	var out []models.Contract
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		var c models.Contract
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("decode contract: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contracts rows: %w", err)
	}
	return out, nil
}

// UpdateContractStatus moves a contract forward to next.
func (s *Store) UpdateContractStatus(ctx context.Context, id string, next models.ContractStatus) (*models.Contract, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	err = tx.QueryRowContext(ctx, `SELECT contract_json FROM contracts WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: contract %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get contract: %w", err)
	}
	var c models.Contract
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode contract %s: %w", id, err)
	}
	updated, err := c.WithStatus(next)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("marshal contract: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE contracts
SET status = ?, contract_json = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
`, string(next), string(b), id); err != nil {
		return nil, fmt.Errorf("update contract status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &updated, nil
}

// ArchiveSession upserts the snapshot of a session.
func (s *Store) ArchiveSession(ctx context.Context, snap models.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	hasContract := 0
	if snap.Contract != nil {
		hasContract = 1
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sessions (id, initiator, resource_type, quantity, status, has_contract, offers_count, snapshot_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status=excluded.status,
    has_contract=excluded.has_contract,
    offers_count=excluded.offers_count,
    snapshot_json=excluded.snapshot_json,
    updated_at=excluded.updated_at
`, snap.ID, snap.InitiatorID, string(snap.Request.Resource), snap.Request.Quantity, string(snap.Status),
		hasContract, len(snap.Offers), string(data), snap.CreatedAt.UTC(), snap.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return nil
}

// GetSession returns nil when the session was never archived.
func (s *Store) GetSession(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM sessions WHERE id = ? LIMIT 1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &snap, nil
}

// ListSessions lists archived sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, initiator, resource_type, quantity, status, has_contract, offers_count, created_at, updated_at
FROM sessions
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var (
			rec         models.SessionSummary
			resource    string
			status      string
			hasContract int
		)
		if err := rows.Scan(&rec.ID, &rec.InitiatorID, &resource, &rec.Quantity, &status, &hasContract, &rec.OfferCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.Resource = models.ResourceKind(resource)
		rec.Status = models.SessionStatus(status)
		rec.HasContract = hasContract == 1
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions rows: %w", err)
	}
	return out, nil
}

func (s *Store) InsertEvent(ctx context.Context, ev models.Event) error {
	if strings.TrimSpace(ev.SessionID) == "" {
		return fmt.Errorf("event session id is required")
	}
	if ev.Seq <= 0 {
		return fmt.Errorf("event seq must be positive")
	}
	payload := []byte("{}")
	if ev.Payload != nil {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = b
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO events (session_id, seq, kind, payload_json, ts)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id, seq) DO NOTHING
`, ev.SessionID, ev.Seq, string(ev.Kind), string(payload), ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]models.Event, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, kind, payload_json, ts
FROM events
WHERE session_id = ?
ORDER BY seq ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			ev      models.Event
			kind    string
			payload string
		)
		if err := rows.Scan(&ev.Seq, &kind, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.SessionID = sessionID
		ev.Kind = models.EventKind(kind)
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events rows: %w", err)
	}
	return out, nil
}
