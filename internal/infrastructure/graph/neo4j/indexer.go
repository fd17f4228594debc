// Package neo4j mirrors document/entity mentions into a Neo4j graph.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

const indexCypher = `
MERGE (d:Document {id: $id})
SET d.filename = $filename, d.documentType = $documentType, d.category = $category
WITH d
OPTIONAL MATCH (d)-[old:MENTIONS]->()
DELETE old
WITH DISTINCT d
UNWIND $entities AS e
MERGE (n:Entity {type: e.type, name: e.name})
MERGE (d)-[r:MENTIONS]->(n)
SET r.count = e.count
`

type runFunc func(ctx context.Context, cypher string, params map[string]any) error

// Indexer replaces the MENTIONS edges of a document on every call, so
// reprocessing a document converges to the same graph.
type Indexer struct {
	driver   neo4j.DriverWithContext
	run      runFunc
	executor *resilience.Executor
}

type Options struct {
	URI      string
	Username string
	Password string
	Database string
	Executor *resilience.Executor
}

func New(ctx context.Context, opts Options) (*Indexer, error) {
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.Username, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	database := opts.Database
	run := func(ctx context.Context, cypher string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(database),
			neo4j.ExecuteQueryWithWritersRouting(),
		)
		return err
	}
	return &Indexer{driver: driver, run: run, executor: opts.Executor}, nil
}

func (i *Indexer) Close(ctx context.Context) error {
	if i.driver == nil {
		return nil
	}
	return i.driver.Close(ctx)
}

func (i *Indexer) IndexEntities(ctx context.Context, doc *domain.Document) error {
	params := indexParams(doc)
	call := func(ctx context.Context) error {
		if err := i.run(ctx, indexCypher, params); err != nil {
			return fmt.Errorf("neo4j index document %s: %w", doc.ID, err)
		}
		return nil
	}
	var err error
	if i.executor != nil {
		err = i.executor.Execute(ctx, "neo4j.index", call, classifyNeo4jError)
	} else {
		err = call(ctx)
	}
	return resilience.WrapTemporary("neo4j index", err, classifyNeo4jError)
}

func indexParams(doc *domain.Document) map[string]any {
	type key struct{ kind, name string }
	counts := map[key]int{}
	for _, e := range doc.Entities {
		name := e.Normalized
		if name == "" {
			name = e.Text
		}
		counts[key{e.Type, name}]++
	}
	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].kind != keys[b].kind {
			return keys[a].kind < keys[b].kind
		}
		return keys[a].name < keys[b].name
	})
	entities := make([]any, 0, len(keys))
	for _, k := range keys {
		entities = append(entities, map[string]any{"type": k.kind, "name": k.name, "count": counts[k]})
	}
	return map[string]any{
		"id":           doc.ID,
		"filename":     doc.Filename,
		"documentType": doc.DocumentType,
		"category":     doc.Category,
		"entities":     entities,
	}
}

func classifyNeo4jError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if neo4j.IsRetryable(err) || resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
