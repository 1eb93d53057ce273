package conversation

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteBackend stores turns in the turns table created by db.InitSchema.
type SQLiteBackend struct {
	DB *sql.DB
}

// NewSQLiteBackend wraps an opened database.
func NewSQLiteBackend(database *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{DB: database}
}

func (b *SQLiteBackend) Load(ctx context.Context, id string) ([]Turn, bool, error) {
	rows, err := b.DB.QueryContext(ctx,
		`SELECT role, content FROM turns WHERE conversation_id = ? ORDER BY position ASC`,
		id,
	)
	if err != nil {
		return nil, false, fmt.Errorf("load turns conversation_id=%s: %w", id, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&role, &t.Content); err != nil {
			return nil, false, fmt.Errorf("scan turn conversation_id=%s: %w", id, err)
		}
		t.Role = Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate turns conversation_id=%s: %w", id, err)
	}
	if len(turns) == 0 {
		return nil, false, nil
	}
	return turns, true, nil
}

// Save replaces the stored sequence in a single transaction.
func (b *SQLiteBackend) Save(ctx context.Context, id string, turns []Turn) error {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save conversation_id=%s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("clear turns conversation_id=%s: %w", id, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (conversation_id, position, role, content) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert turn: %w", err)
	}
	defer stmt.Close()
	for i, t := range turns {
		if _, err := stmt.ExecContext(ctx, id, i, string(t.Role), t.Content); err != nil {
			return fmt.Errorf("insert turn conversation_id=%s position=%d: %w", id, i, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.DB.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete turns conversation_id=%s: %w", id, err)
	}
	return nil
}
