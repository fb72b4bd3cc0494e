package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xela07ax/pixel-gateway/internal/journal"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

type JournalRepo struct {
	db *sql.DB
}

func NewJournalRepo(connString string) *JournalRepo {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		// В main соединение проверяется через Ping
		log.Fatal(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &JournalRepo{db: db}
}

func (r *JournalRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *JournalRepo) Close() error {
	return r.db.Close()
}

func (r *JournalRepo) WriteBatch(ctx context.Context, entries []journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице delivery_journal
	numFields := 12
	placeholderStr := ""
	vals := make([]interface{}, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		vals = append(vals,
			e.ID, e.TraceID, e.VisitorID, e.EventName,
			e.Strategy, e.Mode, e.Decision, e.Status,
			e.Complete, e.DurationMs, e.Timestamp, e.Error,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO delivery_journal (id, trace_id, visitor_id, event_name, strategy, mode, decision, status, complete, duration_ms, timestamp, error) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

// ListRecent отдает последние записи журнала для консоли оператора
func (r *JournalRepo) ListRecent(ctx context.Context, visitorID string, limit int) ([]journal.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, trace_id, visitor_id, event_name, strategy, mode, decision, status, complete, duration_ms, timestamp, error
		FROM delivery_journal`
	args := []interface{}{}
	if visitorID != "" {
		query += " WHERE visitor_id = $1"
		args = append(args, visitorID)
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d", limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		var e journal.Entry
		if err := rows.Scan(&e.ID, &e.TraceID, &e.VisitorID, &e.EventName,
			&e.Strategy, &e.Mode, &e.Decision, &e.Status,
			&e.Complete, &e.DurationMs, &e.Timestamp, &e.Error); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
