package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onex/noderuntime/internal/contract"
)

// SQLHandler executes sql-protocol operations over a pgx connection pool.
// Grounded on the pack's jackc/pgx/v5 dependency surface (the only SQL
// driver the examples carry); statements use positional placeholders
// ($1, $2, ...) as pgx expects.
type SQLHandler struct {
	pool *pgxpool.Pool
}

func NewSQLHandler() *SQLHandler {
	return &SQLHandler{}
}

func (h *SQLHandler) Init(ctx context.Context, conn contract.Connection) error {
	dsn := conn.URL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d dbname=%s", conn.Host, conn.Port, conn.Database)
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("sql handler: parse dsn: %w", err)
	}
	if conn.PoolMinConns > 0 {
		poolCfg.MinConns = int32(conn.PoolMinConns)
	}
	if conn.PoolMaxConns > 0 {
		poolCfg.MaxConns = int32(conn.PoolMaxConns)
	}
	if conn.Auth != nil {
		poolCfg.ConnConfig.User = conn.Auth.Username
		poolCfg.ConnConfig.Password = conn.Auth.Password
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("sql handler: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("sql handler: ping: %w", err)
	}
	h.pool = pool
	return nil
}

func (h *SQLHandler) Execute(ctx context.Context, req Request) Response {
	return timed(func() Response {
		if req.SQL == nil {
			return Response{Err: fmt.Errorf("sql handler: request has no SQL call")}
		}
		call := req.SQL

		rows, err := h.pool.Query(ctx, call.Statement, call.Params...)
		if err != nil {
			return Response{Err: fmt.Errorf("sql handler: %w", err)}
		}

		results, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return Response{Err: fmt.Errorf("sql handler: collect rows: %w", err)}
		}
		tag := rows.CommandTag()

		if isSelectStatement(call.Statement) {
			return Response{Success: true, StatusCode: 200, Data: map[string]interface{}{
				"rows":      results,
				"row_count": len(results),
			}}
		}
		return Response{Success: true, StatusCode: 200, Data: map[string]interface{}{
			"affected_rows": tag.RowsAffected(),
			"result":        results,
		}}
	})
}

// isSelectStatement reports whether statement is a row-returning query
// ("select": {rows, row_count}) as opposed to a mutation ("other":
// {affected_rows, result}); CTEs (WITH ...) are treated as row-returning
// since a trailing SELECT is the common case.
func isSelectStatement(statement string) bool {
	upper := strings.ToUpper(strings.TrimSpace(statement))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

func (h *SQLHandler) Health(ctx context.Context) error {
	return h.pool.Ping(ctx)
}

func (h *SQLHandler) Shutdown(ctx context.Context) error {
	h.pool.Close()
	return nil
}
