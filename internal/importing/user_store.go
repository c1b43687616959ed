package importing

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	// SQLite driver, registered under the "sqlite3" name.
	_ "github.com/mattn/go-sqlite3"
)

// idBlockSize is how many identifiers one round trip to the id sequence
// hands out. Batch inserts assign ids locally from the block instead of
// asking the database per row.
const idBlockSize = 1000

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name  TEXT NOT NULL,
	city       TEXT NOT NULL,
	state      TEXT NOT NULL,
	age        INTEGER NOT NULL,
	email      TEXT NOT NULL,
	phone      TEXT NOT NULL,
	gender     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS user_id_seq (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	next_id INTEGER NOT NULL
);
INSERT OR IGNORE INTO user_id_seq (id, next_id) VALUES (1, 1);
`

// UserStore persists imported users. Each batch runs in its own explicit
// transaction opened and closed right here, so a failed batch rolls back as
// a unit without dragging sibling batches with it.
type UserStore struct {
	db *sql.DB

	idMu   sync.Mutex
	nextID int64
	idHigh int64 // exclusive upper bound of the allocated block
}

// OpenUserStore opens (and if needed creates) the SQLite database at path
// and ensures the schema exists.
func OpenUserStore(path string) (*UserStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open users db: %w", err)
	}
	if _, err := db.Exec(usersSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init users schema: %w", err)
	}
	return &UserStore{db: db}, nil
}

// Close closes the underlying database.
func (s *UserStore) Close() error {
	return s.db.Close()
}

// SaveBatch inserts the users in one transaction, assigning each an id from
// the pre-allocated block. The passed slice is updated with the assigned ids.
func (s *UserStore) SaveBatch(ctx context.Context, users []UserRecord) error {
	if len(users) == 0 {
		return nil
	}
	for i := range users {
		id, err := s.allocateID(ctx)
		if err != nil {
			return err
		}
		users[i].ID = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin users batch: %w", err)
	}
	if err := insertUsers(ctx, tx, users); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit users batch: %w", err)
	}
	return nil
}

func insertUsers(ctx context.Context, tx *sql.Tx, users []UserRecord) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO users (id, first_name, last_name, city, state, age, email, phone, gender) VALUES ")
	args := make([]interface{}, 0, len(users)*9)
	for i, u := range users {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, u.ID, u.FirstName, u.LastName, u.City, u.State, u.Age, u.Email, u.Phone, u.Gender)
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert users batch: %w", err)
	}
	return nil
}

// allocateID returns the next id, refilling the local block from the
// sequence table when it runs dry.
func (s *UserStore) allocateID(ctx context.Context) (int64, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if s.nextID >= s.idHigh {
		if err := s.refillIDBlock(ctx); err != nil {
			return 0, err
		}
	}
	id := s.nextID
	s.nextID++
	return id, nil
}

func (s *UserStore) refillIDBlock(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin id allocation: %w", err)
	}
	var next int64
	if err := tx.QueryRowContext(ctx, "SELECT next_id FROM user_id_seq WHERE id = 1").Scan(&next); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("read id sequence: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE user_id_seq SET next_id = ? WHERE id = 1", next+idBlockSize); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("advance id sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit id allocation: %w", err)
	}
	s.nextID = next
	s.idHigh = next + idBlockSize
	return nil
}

// StreamUsers returns up to limit users with id greater than afterID in id
// order. Callers page through the table by passing the last id they saw,
// which keeps exports at a fixed cost per page regardless of table size.
func (s *UserStore) StreamUsers(ctx context.Context, afterID int64, limit int) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, first_name, last_name, city, state, age, email, phone, gender
		 FROM users WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query users page: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []UserRecord
	for rows.Next() {
		var u UserRecord
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.City, &u.State,
			&u.Age, &u.Email, &u.Phone, &u.Gender); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users page: %w", err)
	}
	return users, nil
}

// Count returns the total number of stored users.
func (s *UserStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
