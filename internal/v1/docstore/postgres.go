package docstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL via database/sql with
// raw SQL, no ORM.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection, verifies it, and ensures the schema
// exists.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rooms (
			room_key          TEXT PRIMARY KEY,
			join_code         TEXT UNIQUE NOT NULL,
			name              TEXT NOT NULL,
			owner_ref         TEXT NOT NULL,
			visibility        TEXT NOT NULL,
			password_hash     TEXT NOT NULL DEFAULT '',
			capacity          INTEGER NOT NULL,
			default_language  TEXT NOT NULL DEFAULT 'plaintext',
			document_blob     BYTEA,
			fallback_text     TEXT NOT NULL DEFAULT '',
			last_activity     TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_saved        TIMESTAMPTZ,
			last_save_reason  TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS members (
			room_key   TEXT NOT NULL REFERENCES rooms(room_key) ON DELETE CASCADE,
			principal  TEXT NOT NULL,
			role       TEXT NOT NULL,
			joined_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen  TIMESTAMPTZ NOT NULL DEFAULT now(),
			online     BOOLEAN NOT NULL DEFAULT false,
			banned     BOOLEAN NOT NULL DEFAULT false,
			PRIMARY KEY (room_key, principal)
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error { return s.db.Close() }

// Ping verifies database connectivity; used by the readiness health check.
func (s *PostgresStore) Ping() error { return s.db.Ping() }

func scanRoom(row *sql.Row) (*Room, error) {
	r := &Room{}
	var lastSaved sql.NullTime
	var lastSaveReason sql.NullString
	var blob []byte
	err := row.Scan(
		&r.RoomKey, &r.JoinCode, &r.Name, &r.OwnerRef, &r.Visibility,
		&r.PasswordHash, &r.Capacity, &r.DefaultLanguage, &blob,
		&r.FallbackText, &r.LastActivity, &lastSaved, &lastSaveReason,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("scan room: %w", err)
	}
	r.DocumentBlob = blob
	if lastSaved.Valid {
		r.LastSaved = lastSaved.Time
	}
	if lastSaveReason.Valid {
		r.LastSaveReason = SaveReason(lastSaveReason.String)
	}
	return r, nil
}

const roomColumns = `room_key, join_code, name, owner_ref, visibility, password_hash,
	capacity, default_language, document_blob, fallback_text, last_activity,
	last_saved, last_save_reason`

// CreateRoom inserts a new room row.
func (s *PostgresStore) CreateRoom(room *Room) error {
	_, err := s.db.Exec(`
		INSERT INTO rooms (room_key, join_code, name, owner_ref, visibility,
			password_hash, capacity, default_language, fallback_text, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, room.RoomKey, room.JoinCode, room.Name, room.OwnerRef, room.Visibility,
		room.PasswordHash, room.Capacity, room.DefaultLanguage, room.FallbackText, time.Now())
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// LoadRoom returns not-found as ErrRoomNotFound, distinct from other errors.
func (s *PostgresStore) LoadRoom(roomKey string) (*Room, error) {
	row := s.db.QueryRow(`SELECT `+roomColumns+` FROM rooms WHERE room_key = $1`, roomKey)
	return scanRoom(row)
}

// FindRoomByJoinCode resolves a room by its rotatable join code.
func (s *PostgresStore) FindRoomByJoinCode(joinCode string) (*Room, error) {
	row := s.db.QueryRow(`SELECT `+roomColumns+` FROM rooms WHERE join_code = $1`, joinCode)
	return scanRoom(row)
}

// SaveRoom atomically updates the document blob, fallback text, language,
// and save bookkeeping for a room in a single statement.
func (s *PostgresStore) SaveRoom(roomKey string, documentBlob []byte, fallbackText, language string, reason SaveReason, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE rooms
		SET document_blob = $2, fallback_text = $3, default_language = $4,
			last_saved = $5, last_save_reason = $6, last_activity = $5
		WHERE room_key = $1
	`, roomKey, documentBlob, fallbackText, language, at, string(reason))
	if err != nil {
		return fmt.Errorf("save room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save room rows affected: %w", err)
	}
	if n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// RotateJoinCode assigns a new capability token for a room, leaving
// room_key (the primary identity) untouched.
func (s *PostgresStore) RotateJoinCode(roomKey, newJoinCode string) error {
	res, err := s.db.Exec(`UPDATE rooms SET join_code = $2 WHERE room_key = $1`, roomKey, newJoinCode)
	if err != nil {
		return fmt.Errorf("rotate join code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate join code rows affected: %w", err)
	}
	if n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// PurgeRoom deletes the room and, via ON DELETE CASCADE, all its member rows.
func (s *PostgresStore) PurgeRoom(roomKey string) error {
	_, err := s.db.Exec(`DELETE FROM rooms WHERE room_key = $1`, roomKey)
	if err != nil {
		return fmt.Errorf("purge room: %w", err)
	}
	return nil
}

// UpsertMember creates or updates a membership row.
func (s *PostgresStore) UpsertMember(roomKey, principal string, role Role, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO members (room_key, principal, role, joined_at, last_seen, online)
		VALUES ($1, $2, $3, $4, $4, true)
		ON CONFLICT (room_key, principal) DO UPDATE
		SET role = $3, last_seen = $4, online = true
	`, roomKey, principal, string(role), at)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

// MarkOnline flips a member's online flag. It is advisory and eventually
// consistent with the live Session set; callers must not depend on it being
// synchronously accurate.
func (s *PostgresStore) MarkOnline(roomKey, principal string, online bool, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE members SET online = $3, last_seen = $4
		WHERE room_key = $1 AND principal = $2
	`, roomKey, principal, online, at)
	if err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

// SetBanned flips a member's banned flag.
func (s *PostgresStore) SetBanned(roomKey, principal string, banned bool) error {
	_, err := s.db.Exec(`UPDATE members SET banned = $3 WHERE room_key = $1 AND principal = $2`, roomKey, principal, banned)
	if err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	return nil
}

// CountOnline returns the number of members currently marked online for a
// room, used by admission capacity checks.
func (s *PostgresStore) CountOnline(roomKey string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT count(*) FROM members WHERE room_key = $1 AND online = true`, roomKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count online: %w", err)
	}
	return count, nil
}

// GetMember returns a member row, or nil with no error if absent (guest
// principals are often absent entirely per the persisted-shadow policy).
func (s *PostgresStore) GetMember(roomKey, principal string) (*Member, error) {
	m := &Member{}
	var role string
	err := s.db.QueryRow(`
		SELECT room_key, principal, role, joined_at, last_seen, online, banned
		FROM members WHERE room_key = $1 AND principal = $2
	`, roomKey, principal).Scan(&m.RoomKey, &m.Principal, &role, &m.JoinedAt, &m.LastSeen, &m.Online, &m.Banned)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	m.Role = Role(role)
	return m, nil
}

// PurgeStaleGuests deletes offline guest member rows last seen before
// cutoff. The principal ~ '^guest_' regex keeps authenticated-user rows
// untouched regardless of naming coincidence elsewhere in the system.
func (s *PostgresStore) PurgeStaleGuests(roomKey string, cutoff time.Time) error {
	_, err := s.db.Exec(`
		DELETE FROM members
		WHERE room_key = $1 AND online = false AND last_seen < $2 AND principal ~ '^guest_'
	`, roomKey, cutoff)
	if err != nil {
		return fmt.Errorf("purge stale guests: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
