package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"botguard/internal/domain"
	"botguard/internal/storage"
)

// DirectiveStore implements storage.DirectiveStore using PostgreSQL.
type DirectiveStore struct {
	pool *Pool
}

// NewDirectiveStore creates a new DirectiveStore.
func NewDirectiveStore(pool *Pool) *DirectiveStore {
	return &DirectiveStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DirectiveStore = (*DirectiveStore)(nil)

// Append records a newly issued directive.
func (s *DirectiveStore) Append(ctx context.Context, d *domain.Directive) error {
	query := `
		INSERT INTO directives (bot, parameter, value, issued_by, issued_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query, d.Bot, string(d.Parameter), d.Value, d.IssuedBy, d.IssuedAt)
	if err != nil {
		return fmt.Errorf("append directive: %w", err)
	}
	return nil
}

// Active retrieves the most recent directive by issued_at for (bot, parameter).
func (s *DirectiveStore) Active(ctx context.Context, bot string, param domain.Parameter) (*domain.Directive, error) {
	query := `
		SELECT bot, parameter, value, issued_by, issued_at
		FROM directives
		WHERE bot = $1 AND parameter = $2
		ORDER BY issued_at DESC, id DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, bot, string(param))
	d, err := scanDirective(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get active directive: %w", err)
	}
	return d, nil
}

// ActiveForBot retrieves the active directive for every parameter of a bot.
func (s *DirectiveStore) ActiveForBot(ctx context.Context, bot string) ([]*domain.Directive, error) {
	query := `
		SELECT DISTINCT ON (parameter) bot, parameter, value, issued_by, issued_at
		FROM directives
		WHERE bot = $1
		ORDER BY parameter ASC, issued_at DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, bot)
	if err != nil {
		return nil, fmt.Errorf("get active directives for bot: %w", err)
	}
	defer rows.Close()

	return scanDirectives(rows)
}

// History retrieves all directives for (bot, parameter), ordered by issued_at ASC.
func (s *DirectiveStore) History(ctx context.Context, bot string, param domain.Parameter) ([]*domain.Directive, error) {
	query := `
		SELECT bot, parameter, value, issued_by, issued_at
		FROM directives
		WHERE bot = $1 AND parameter = $2
		ORDER BY issued_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, bot, string(param))
	if err != nil {
		return nil, fmt.Errorf("get directive history: %w", err)
	}
	defer rows.Close()

	return scanDirectives(rows)
}

// scanDirective scans a single row into a Directive.
func scanDirective(row pgx.Row) (*domain.Directive, error) {
	var d domain.Directive
	var param string

	err := row.Scan(&d.Bot, &param, &d.Value, &d.IssuedBy, &d.IssuedAt)
	if err != nil {
		return nil, err
	}

	d.Parameter = domain.Parameter(param)
	return &d, nil
}

// scanDirectives scans multiple rows into a slice of Directive.
func scanDirectives(rows pgx.Rows) ([]*domain.Directive, error) {
	var directives []*domain.Directive

	for rows.Next() {
		var d domain.Directive
		var param string

		if err := rows.Scan(&d.Bot, &param, &d.Value, &d.IssuedBy, &d.IssuedAt); err != nil {
			return nil, fmt.Errorf("scan directive row: %w", err)
		}

		d.Parameter = domain.Parameter(param)
		directives = append(directives, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directive rows: %w", err)
	}

	return directives, nil
}
