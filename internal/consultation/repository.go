package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("session not found")

// Repository stores session snapshots. Save is an upsert keyed by session id.
type Repository interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context, id string) (Snapshot, error)
	List(ctx context.Context, limit int) ([]Snapshot, error)
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

const patientColumns = `session_id, name, email, age, gender, symptoms, responses, status,
	current_symptom, current_question_index, conversation_history, notified,
	created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *postgresRepo) Load(ctx context.Context, id string) (Snapshot, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE session_id = $1`

	s, err := scanSnapshot(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	return s, nil
}

func (r *postgresRepo) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY updated_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		s                                        Snapshot
		name, email, gender, status, current     sql.NullString
		age                                      sql.NullInt64
		symptomsJSON, responsesJSON, historyJSON []byte
		completedAt                              sql.NullTime
	)
	err := row.Scan(
		&s.ID,
		&name,
		&email,
		&age,
		&gender,
		&symptomsJSON,
		&responsesJSON,
		&status,
		&current,
		&s.CurrentQuestionIndex,
		&historyJSON,
		&s.Notified,
		&s.CreatedAt,
		&s.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return Snapshot{}, err
	}

	s.Name, s.Email, s.Gender, s.CurrentSymptom = name.String, email.String, gender.String, current.String
	s.Age = int(age.Int64)
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	if s.Phase, err = ParsePhase(status.String); err != nil {
		return Snapshot{}, err
	}

	if len(symptomsJSON) > 0 {
		if err := json.Unmarshal(symptomsJSON, &s.Symptoms); err != nil {
			return Snapshot{}, fmt.Errorf("failed to unmarshal symptoms: %w", err)
		}
	}
	if len(responsesJSON) > 0 {
		if err := json.Unmarshal(responsesJSON, &s.Responses); err != nil {
			return Snapshot{}, fmt.Errorf("failed to unmarshal responses: %w", err)
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &s.History); err != nil {
			return Snapshot{}, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	return s, nil
}

func (r *postgresRepo) Save(ctx context.Context, s Snapshot) error {
	symptomsJSON, err := json.Marshal(nonNilStrings(s.Symptoms))
	if err != nil {
		return err
	}
	responsesJSON, err := json.Marshal(copyResponses(s.Responses))
	if err != nil {
		return err
	}
	historyJSON, err := json.Marshal(s.History)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO patients (` + patientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (session_id) DO UPDATE SET
			name = $2,
			email = $3,
			age = $4,
			gender = $5,
			symptoms = $6,
			responses = $7,
			status = $8,
			current_symptom = $9,
			current_question_index = $10,
			conversation_history = $11,
			notified = $12,
			updated_at = $14,
			completed_at = $15
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID,
		nullString(s.Name),
		nullString(s.Email),
		sql.NullInt64{Int64: int64(s.Age), Valid: s.Age > 0},
		nullString(s.Gender),
		symptomsJSON,
		responsesJSON,
		s.Phase.String(),
		nullString(s.CurrentSymptom),
		s.CurrentQuestionIndex,
		historyJSON,
		s.Notified,
		s.CreatedAt,
		s.UpdatedAt,
		s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
