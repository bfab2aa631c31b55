package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresDedupeChecker implements the tier-2 dedup lookup against
// vault.processed_requests.
type PostgresDedupeChecker struct {
	db *sql.DB
}

func NewPostgresDedupeChecker(db *sql.DB) *PostgresDedupeChecker {
	return &PostgresDedupeChecker{db: db}
}

// IsDuplicate checks whether a request key was already committed.
func (c *PostgresDedupeChecker) IsDuplicate(opType string, requestKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	query := `
        SELECT 1
        FROM vault.processed_requests
        WHERE op_type = $1 AND request_key = $2
        LIMIT 1
    `

	var exists int
	err := c.db.QueryRowContext(ctx, query, opType, requestKey).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the most recently committed composite keys
// ("op_type:request_key"), used to warm the in-memory LRU on startup.
func (c *PostgresDedupeChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT op_type, request_key
        FROM vault.processed_requests
        ORDER BY sequence DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var opType, key string
		if err := rows.Scan(&opType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, fmt.Sprintf("%s:%s", opType, key))
	}
	return keys, rows.Err()
}
