package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/sqlutil"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const maxUpdateAttempts = 5

var placeholder = regexp.MustCompile(`\$(\d+)`)

// SQLStore implements Store on database/sql. Queries are written with $N
// placeholders and rebound for SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	clock   clockwork.Clock
}

func NewSQLStore(db *sql.DB, dialect Dialect, clock clockwork.Clock) *SQLStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SQLStore{db: db, dialect: dialect, clock: clock}
}

var _ Store = (*SQLStore)(nil)

// queries binds statements to one transaction.
type queries struct {
	tx      *sql.Tx
	dialect Dialect
}

func (s *SQLStore) newQueries(tx *sql.Tx) *queries {
	return &queries{tx: tx, dialect: s.dialect}
}

func rebind(dialect Dialect, query string) string {
	if dialect == DialectSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.tx.ExecContext(ctx, rebind(q.dialect, query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.tx.QueryRowContext(ctx, rebind(q.dialect, query), args...)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.tx.QueryContext(ctx, rebind(q.dialect, query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, rebind(s.dialect, query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, rebind(s.dialect, query), args...)
}

type scanner interface {
	Scan(dest ...any) error
}

const roomColumns = `id, name, voting_system, time_units, complexity_values, time_values,
	dual_voting, auto_reveal, current_round, current_description, is_revealed,
	created_by, version, created_at, updated_at`

func scanRoom(row scanner) (*models.Room, error) {
	var (
		r                      models.Room
		complexityRaw, timeRaw string
		createdBy              sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.VotingSystem, &r.TimeUnits, &complexityRaw, &timeRaw,
		&r.DualVoting, &r.AutoReveal, &r.CurrentRound, &r.CurrentDescription, &r.Revealed,
		&createdBy, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.ComplexityValues, err = sqlutil.DecodeStrings(complexityRaw); err != nil {
		return nil, err
	}
	if r.TimeValues, err = sqlutil.DecodeStrings(timeRaw); err != nil {
		return nil, err
	}
	r.CreatedBy = sqlutil.FromSqlStringPtr(createdBy)
	return &r, nil
}

const participantColumns = `id, room_id, name, is_creator, joined_at, token`

func scanParticipant(row scanner) (*models.Participant, error) {
	var p models.Participant
	if err := row.Scan(&p.ID, &p.RoomID, &p.Name, &p.IsCreator, &p.JoinedAt, &p.Token); err != nil {
		return nil, err
	}
	return &p, nil
}

const voteColumns = `id, room_id, participant_id, round, complexity_value, time_value, voted_at`

func scanVote(row scanner) (*models.Vote, error) {
	var (
		v                 models.Vote
		complexity, timev sql.NullString
	)
	if err := row.Scan(&v.ID, &v.RoomID, &v.ParticipantID, &v.Round, &complexity, &timev, &v.VotedAt); err != nil {
		return nil, err
	}
	v.ComplexityValue = sqlutil.FromSqlStringPtr(complexity)
	v.TimeValue = sqlutil.FromSqlStringPtr(timev)
	return &v, nil
}

const historyColumns = `id, room_id, round, description,
	complexity_consensus, complexity_average, complexity_min, complexity_max,
	time_consensus, time_average, time_min, time_max, completed_at`

func scanHistory(row scanner) (*models.VotingHistory, error) {
	var (
		h                  models.VotingHistory
		cc, ca, cmin, cmax sql.NullString
		tc, ta, tmin, tmax sql.NullString
	)
	err := row.Scan(
		&h.ID, &h.RoomID, &h.Round, &h.Description,
		&cc, &ca, &cmin, &cmax,
		&tc, &ta, &tmin, &tmax,
		&h.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	h.ComplexityConsensus = sqlutil.FromSqlStringPtr(cc)
	h.ComplexityAverage = sqlutil.FromSqlStringPtr(ca)
	h.ComplexityMin = sqlutil.FromSqlStringPtr(cmin)
	h.ComplexityMax = sqlutil.FromSqlStringPtr(cmax)
	h.TimeConsensus = sqlutil.FromSqlStringPtr(tc)
	h.TimeAverage = sqlutil.FromSqlStringPtr(ta)
	h.TimeMin = sqlutil.FromSqlStringPtr(tmin)
	h.TimeMax = sqlutil.FromSqlStringPtr(tmax)
	return &h, nil
}

func (s *SQLStore) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error) {
	complexity, err := sqlutil.EncodeStrings(req.ComplexityValues)
	if err != nil {
		return nil, err
	}
	timeValues, err := sqlutil.EncodeStrings(req.TimeValues)
	if err != nil {
		return nil, err
	}
	now := sqlutil.UTC(s.clock.Now())

	return sqlutil.Get(ctx, s.db, s.newQueries, func(q *queries) (*models.Room, error) {
		_, err := q.exec(ctx, `
			INSERT INTO rooms (id, name, voting_system, time_units, complexity_values, time_values,
				dual_voting, auto_reveal, current_round, current_description, is_revealed,
				created_by, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, '', FALSE, $9, 1, $10, $10)`,
			req.ID, req.Name, string(req.VotingSystem), string(req.TimeUnits), complexity, timeValues,
			req.DualVoting, req.AutoReveal, sqlutil.ToSqlString(req.CreatedBy), now,
		)
		if isUniqueViolation(err) {
			return nil, ErrRoomExists
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create room: %w", err)
		}
		room, err := scanRoom(q.queryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, req.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to load created room: %w", err)
		}
		return room, nil
	})
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure from either supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

func (s *SQLStore) GetRoom(ctx context.Context, id string) (*models.Room, bool, error) {
	room, err := scanRoom(s.queryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get room: %w", err)
	}
	return room, true, nil
}

// UpdateRoom reads the room, applies the patch and writes it back guarded by
// the version column. Lost races are retried against the fresh row, so
// ExpectRound is always checked against the latest committed round.
func (s *SQLStore) UpdateRoom(ctx context.Context, id string, patch RoomPatch) (*models.Room, bool, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		room, found, err := s.GetRoom(ctx, id)
		if err != nil || !found {
			return nil, found, err
		}
		if patch.ExpectRound != nil && room.CurrentRound != *patch.ExpectRound {
			return nil, true, ErrRoundChanged
		}

		prevVersion := room.Version
		patch.apply(room)
		room.Version = prevVersion + 1
		room.UpdatedAt = sqlutil.UTC(s.clock.Now())

		updated, err := s.writeRoom(ctx, room, prevVersion)
		if err != nil {
			return nil, true, err
		}
		if updated {
			return room, true, nil
		}
	}
	return nil, true, ErrConflict
}

func (s *SQLStore) writeRoom(ctx context.Context, room *models.Room, prevVersion int64) (bool, error) {
	complexity, err := sqlutil.EncodeStrings(room.ComplexityValues)
	if err != nil {
		return false, err
	}
	timeValues, err := sqlutil.EncodeStrings(room.TimeValues)
	if err != nil {
		return false, err
	}

	return sqlutil.Get(ctx, s.db, s.newQueries, func(q *queries) (bool, error) {
		res, err := q.exec(ctx, `
			UPDATE rooms SET
				name = $1, voting_system = $2, time_units = $3,
				complexity_values = $4, time_values = $5,
				dual_voting = $6, auto_reveal = $7,
				current_round = $8, current_description = $9, is_revealed = $10,
				version = $11, updated_at = $12
			WHERE id = $13 AND version = $14`,
			room.Name, string(room.VotingSystem), string(room.TimeUnits),
			complexity, timeValues,
			room.DualVoting, room.AutoReveal,
			room.CurrentRound, room.CurrentDescription, room.Revealed,
			room.Version, room.UpdatedAt,
			room.ID, prevVersion,
		)
		if err != nil {
			return false, fmt.Errorf("failed to update room: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to update room: %w", err)
		}
		return n == 1, nil
	})
}

func (s *SQLStore) CreateParticipant(ctx context.Context, req CreateParticipantRequest) (*models.Participant, error) {
	p, err := s.insertParticipant(ctx, req, true)
	if err == nil || errors.Is(err, ErrRoomMissing) || errors.Is(err, ErrParticipantExists) {
		return p, err
	}
	// A concurrent join may have claimed the creator slot between our check
	// and insert; the partial unique index rejects ours. Join as a member.
	return s.insertParticipant(ctx, req, false)
}

func (s *SQLStore) insertParticipant(ctx context.Context, req CreateParticipantRequest, mayCreate bool) (*models.Participant, error) {
	joinedAt := sqlutil.UTC(s.clock.Now())

	return sqlutil.Get(ctx, s.db, s.newQueries, func(q *queries) (*models.Participant, error) {
		var rooms int
		if err := q.queryRow(ctx, `SELECT COUNT(*) FROM rooms WHERE id = $1`, req.RoomID).Scan(&rooms); err != nil {
			return nil, fmt.Errorf("failed to check room: %w", err)
		}
		if rooms == 0 {
			return nil, ErrRoomMissing
		}

		var existing int
		if err := q.queryRow(ctx, `SELECT COUNT(*) FROM participants WHERE id = $1`, req.ID).Scan(&existing); err != nil {
			return nil, fmt.Errorf("failed to check participant id: %w", err)
		}
		if existing > 0 {
			return nil, ErrParticipantExists
		}

		isCreator := false
		if mayCreate {
			var members, creators int
			err := q.queryRow(ctx, `
				SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_creator THEN 1 ELSE 0 END), 0)
				FROM participants WHERE room_id = $1`, req.RoomID).Scan(&members, &creators)
			if err != nil {
				return nil, fmt.Errorf("failed to count participants: %w", err)
			}
			isCreator = creators == 0 && (req.WantCreator || members == 0)
		}

		_, err := q.exec(ctx, `
			INSERT INTO participants (id, room_id, name, is_creator, joined_at, token)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			req.ID, req.RoomID, req.Name, isCreator, joinedAt, req.Token,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create participant: %w", err)
		}
		p, err := scanParticipant(q.queryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = $1`, req.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to load created participant: %w", err)
		}
		return p, nil
	})
}

func (s *SQLStore) GetParticipant(ctx context.Context, id string) (*models.Participant, bool, error) {
	p, err := scanParticipant(s.queryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, true, nil
}

func (s *SQLStore) GetParticipantsByRoom(ctx context.Context, roomID string) ([]models.Participant, error) {
	rows, err := s.query(ctx, `
		SELECT `+participantColumns+` FROM participants
		WHERE room_id = $1 ORDER BY joined_at, id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	out := []models.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *SQLStore) RemoveParticipant(ctx context.Context, id string) (bool, error) {
	return sqlutil.Get(ctx, s.db, s.newQueries, func(q *queries) (bool, error) {
		if _, err := q.exec(ctx, `DELETE FROM votes WHERE participant_id = $1`, id); err != nil {
			return false, fmt.Errorf("failed to delete participant votes: %w", err)
		}
		res, err := q.exec(ctx, `DELETE FROM participants WHERE id = $1`, id)
		if err != nil {
			return false, fmt.Errorf("failed to delete participant: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to delete participant: %w", err)
		}
		return n > 0, nil
	})
}

func (s *SQLStore) CreateOrUpdateVote(ctx context.Context, req UpsertVoteRequest) (*models.Vote, error) {
	votedAt := sqlutil.UTC(s.clock.Now())

	return sqlutil.Get(ctx, s.db, s.newQueries, func(q *queries) (*models.Vote, error) {
		var participants int
		err := q.queryRow(ctx,
			`SELECT COUNT(*) FROM participants WHERE id = $1 AND room_id = $2`,
			req.ParticipantID, req.RoomID,
		).Scan(&participants)
		if err != nil {
			return nil, fmt.Errorf("failed to check participant: %w", err)
		}
		if participants == 0 {
			return nil, ErrParticipantMissing
		}

		_, err = q.exec(ctx, `
			INSERT INTO votes (room_id, participant_id, round, complexity_value, time_value, voted_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (participant_id, round) DO UPDATE SET
				complexity_value = COALESCE(excluded.complexity_value, votes.complexity_value),
				time_value = COALESCE(excluded.time_value, votes.time_value),
				voted_at = excluded.voted_at`,
			req.RoomID, req.ParticipantID, req.Round,
			sqlutil.ToSqlString(req.ComplexityValue), sqlutil.ToSqlString(req.TimeValue), votedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert vote: %w", err)
		}
		v, err := scanVote(q.queryRow(ctx, `
			SELECT `+voteColumns+` FROM votes
			WHERE participant_id = $1 AND round = $2`, req.ParticipantID, req.Round))
		if err != nil {
			return nil, fmt.Errorf("failed to load upserted vote: %w", err)
		}
		return v, nil
	})
}

func (s *SQLStore) GetVotesByRoomAndRound(ctx context.Context, roomID string, round int) ([]models.Vote, error) {
	rows, err := s.query(ctx, `
		SELECT `+voteColumns+` FROM votes
		WHERE room_id = $1 AND round = $2 ORDER BY id`, roomID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	out := []models.Vote{}
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetVoteByParticipantAndRound(ctx context.Context, participantID string, round int) (*models.Vote, bool, error) {
	v, err := scanVote(s.queryRow(ctx, `
		SELECT `+voteColumns+` FROM votes
		WHERE participant_id = $1 AND round = $2`, participantID, round))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get vote: %w", err)
	}
	return v, true, nil
}

func (s *SQLStore) CreateVotingHistory(ctx context.Context, req CreateHistoryRequest) (*models.VotingHistory, bool, error) {
	completedAt := sqlutil.UTC(s.clock.Now())

	type result struct {
		entry   *models.VotingHistory
		created bool
	}
	res, err := sqlutil.Get(ctx, s.db, s.newQueries, func(q *queries) (result, error) {
		var rooms int
		if err := q.queryRow(ctx, `SELECT COUNT(*) FROM rooms WHERE id = $1`, req.RoomID).Scan(&rooms); err != nil {
			return result{}, fmt.Errorf("failed to check room: %w", err)
		}
		if rooms == 0 {
			return result{}, ErrRoomMissing
		}

		inserted, err := q.exec(ctx, `
			INSERT INTO voting_history (room_id, round, description,
				complexity_consensus, complexity_average, complexity_min, complexity_max,
				time_consensus, time_average, time_min, time_max, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (room_id, round) DO NOTHING`,
			req.RoomID, req.Round, req.Description,
			sqlutil.ToSqlString(req.ComplexityConsensus), sqlutil.ToSqlString(req.ComplexityAverage),
			sqlutil.ToSqlString(req.ComplexityMin), sqlutil.ToSqlString(req.ComplexityMax),
			sqlutil.ToSqlString(req.TimeConsensus), sqlutil.ToSqlString(req.TimeAverage),
			sqlutil.ToSqlString(req.TimeMin), sqlutil.ToSqlString(req.TimeMax),
			completedAt,
		)
		if err != nil {
			return result{}, fmt.Errorf("failed to create voting history: %w", err)
		}
		n, err := inserted.RowsAffected()
		if err != nil {
			return result{}, fmt.Errorf("failed to create voting history: %w", err)
		}

		entry, err := scanHistory(q.queryRow(ctx, `
			SELECT `+historyColumns+` FROM voting_history
			WHERE room_id = $1 AND round = $2`, req.RoomID, req.Round))
		if err != nil {
			return result{}, fmt.Errorf("failed to load voting history: %w", err)
		}
		return result{entry: entry, created: n == 1}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.entry, res.created, nil
}

func (s *SQLStore) GetVotingHistoryByRoom(ctx context.Context, roomID string) ([]models.VotingHistory, error) {
	rows, err := s.query(ctx, `
		SELECT `+historyColumns+` FROM voting_history
		WHERE room_id = $1 ORDER BY round DESC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list voting history: %w", err)
	}
	defer rows.Close()

	out := []models.VotingHistory{}
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan voting history: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}
