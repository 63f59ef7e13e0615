package handler

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/onex/noderuntime/internal/contract"
)

// GraphHandler executes graph-cypher operations over a Bolt driver.
// Nothing in the retrieved example pack exercises a graph database client,
// so neo4j-go-driver/v5 is named rather than grounded — it is the
// canonical Go driver for Cypher/Bolt and the natural counterpart to this
// handler's contract shape.
type GraphHandler struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewGraphHandler() *GraphHandler {
	return &GraphHandler{}
}

func (h *GraphHandler) Init(ctx context.Context, conn contract.Connection) error {
	var auth neo4j.AuthToken
	if conn.Auth != nil {
		switch conn.Auth.Kind {
		case "basic":
			auth = neo4j.BasicAuth(conn.Auth.Username, conn.Auth.Password, "")
		case "bearer":
			auth = neo4j.BearerAuth(conn.Auth.Token)
		default:
			auth = neo4j.NoAuth()
		}
	} else {
		auth = neo4j.NoAuth()
	}

	driver, err := neo4j.NewDriverWithContext(conn.URL, auth, func(c *neo4j.Config) {
		if conn.PoolMaxConns > 0 {
			c.MaxConnectionPoolSize = conn.PoolMaxConns
		}
	})
	if err != nil {
		return fmt.Errorf("graph handler: connect: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graph handler: verify connectivity: %w", err)
	}
	h.driver = driver
	h.database = conn.Database
	return nil
}

func (h *GraphHandler) Execute(ctx context.Context, req Request) Response {
	return timed(func() Response {
		if req.Cypher == nil {
			return Response{Err: fmt.Errorf("graph handler: request has no Cypher call")}
		}
		call := req.Cypher

		sessionCfg := neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite}
		if h.database != "" {
			sessionCfg.DatabaseName = h.database
		}
		session := h.driver.NewSession(ctx, sessionCfg)
		defer session.Close(ctx)

		result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			res, err := tx.Run(ctx, call.Query, call.Params)
			if err != nil {
				return nil, err
			}
			records := make([]map[string]interface{}, 0)
			for res.Next(ctx) {
				records = append(records, res.Record().AsMap())
			}
			if err := res.Err(); err != nil {
				return nil, err
			}
			summary, err := res.Consume(ctx)
			if err != nil {
				return nil, err
			}
			counters := summary.Counters()
			return map[string]interface{}{
				"records": records,
				"counters": map[string]interface{}{
					"nodes_created":         counters.NodesCreated(),
					"nodes_deleted":         counters.NodesDeleted(),
					"relationships_created": counters.RelationshipsCreated(),
					"relationships_deleted": counters.RelationshipsDeleted(),
					"properties_set":        counters.PropertiesSet(),
				},
			}, nil
		})
		if err != nil {
			return Response{Err: fmt.Errorf("graph handler: %w", err)}
		}

		return Response{Success: true, StatusCode: 200, Data: result}
	})
}

func (h *GraphHandler) Health(ctx context.Context) error {
	return h.driver.VerifyConnectivity(ctx)
}

func (h *GraphHandler) Shutdown(ctx context.Context) error {
	return h.driver.Close(ctx)
}
