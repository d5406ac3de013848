package lists

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/nexshop/nexid/internal/retry"
	"github.com/nexshop/nexid/internal/risk"
)

// Postgres reads lists from the risk_lists table.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgres creates a source over an open database handle.
func NewPostgres(db *sql.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// OpenDB opens and pings a PostgreSQL database, retrying while it comes up.
func OpenDB(ctx context.Context, url string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	err = retry.Do(ctx, retry.DefaultPolicy("postgres", logger), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func (p *Postgres) Name() string { return "postgres" }

// Load reads every row. Rows with an unknown kind or verdict are skipped
// with a warning rather than failing start-up.
func (p *Postgres) Load(ctx context.Context) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT list_kind, verdict, value
		FROM risk_lists
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query risk_lists: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var kindStr, verdictStr, value string
		if err := rows.Scan(&kindStr, &verdictStr, &value); err != nil {
			return nil, fmt.Errorf("scan risk_lists: %w", err)
		}
		kind, ok := risk.ParseKind(kindStr)
		verdict, vok := ParseVerdict(verdictStr)
		if !ok || !vok {
			if p.logger != nil {
				p.logger.Warn("skipping list row", "kind", kindStr, "verdict", verdictStr)
			}
			continue
		}
		entries = append(entries, Entry{Verdict: verdict, Kind: kind, Value: value})
	}
	return entries, rows.Err()
}

// Insert adds one entry. Duplicates are ignored.
func (p *Postgres) Insert(ctx context.Context, e Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO risk_lists (list_kind, verdict, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (list_kind, verdict, value) DO NOTHING`,
		string(e.Kind), string(e.Verdict), e.Value,
	)
	return err
}
