package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGVector 将文档存放在 PostgreSQL（pgvector 扩展）中，按 embedding <-> query 排序检索。
type PGVector struct {
	pool     *pgxpool.Pool
	table    string
	embedder embedding.Embedder
}

// NewPGVector 连接数据库并确保扩展与数据表存在。
func NewPGVector(ctx context.Context, databaseURL, table string, embedder embedding.Embedder) (*PGVector, error) {
	if table == "" {
		return nil, fmt.Errorf("vectorstore: table name is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: failed to connect to Postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: ping Postgres: %w", err)
	}

	p := &PGVector{pool: pool, table: pgx.Identifier{table}.Sanitize(), embedder: embedder}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PGVector) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq       BIGSERIAL,
			id        TEXT PRIMARY KEY,
			content   TEXT NOT NULL,
			metadata  JSONB NOT NULL DEFAULT '{}',
			embedding vector NOT NULL
		)`, p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("vectorstore: migrate: %w", err)
		}
	}
	return nil
}

// GetType 返回组件类型名，用于回调中的 RunInfo。
func (p *PGVector) GetType() string { return "PGVectorStore" }

func (p *PGVector) dimension(ctx context.Context) (int, error) {
	var dim int
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT vector_dims(embedding) FROM %s LIMIT 1`, p.table)).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vectorstore: read dimension: %w", err)
	}
	return dim, nil
}

// Store 向量化并写入文档；已存在的 ID 会被覆盖并保持原有顺序。
func (p *PGVector) Store(ctx context.Context, docs []*schema.Document, opts ...indexer.Option) (ids []string, err error) {
	ctx = callbacks.EnsureRunInfo(ctx, p.GetType(), components.ComponentOfIndexer)
	ctx = callbacks.OnStart(ctx, &indexer.CallbackInput{Docs: docs})
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	options, err := indexOptions(p.embedder, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	dim, err := p.dimension(ctx)
	if err != nil {
		return nil, err
	}
	vectors, _, err := embedDocuments(ctx, options.Embedding, docs, dim)
	if err != nil {
		return nil, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	upsert := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, p.table)

	batch := &pgx.Batch{}
	ids = make([]string, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id

		meta := doc.MetaData
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: encode metadata for %s: %w", id, err)
		}
		batch.Queue(upsert, id, doc.Content, string(metaJSON), pgvector.NewVector(toFloat32(vectors[i])))
	}

	results := tx.SendBatch(ctx, batch)
	for _, id := range ids {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return nil, fmt.Errorf("vectorstore: upsert %s: %w", id, err)
		}
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("vectorstore: upsert batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("vectorstore: commit: %w", err)
	}

	callbacks.OnEnd(ctx, &indexer.CallbackOutput{IDs: ids})
	return ids, nil
}

// Retrieve 返回与查询最相近的文档，Score 为平方 L2 距离。
func (p *PGVector) Retrieve(ctx context.Context, query string, opts ...retriever.Option) (docs []*schema.Document, err error) {
	options, err := retrieveOptions(p.embedder, opts)
	if err != nil {
		return nil, err
	}

	ctx = callbacks.EnsureRunInfo(ctx, p.GetType(), components.ComponentOfRetriever)
	ctx = callbacks.OnStart(ctx, &retriever.CallbackInput{Query: query, TopK: *options.TopK, ScoreThreshold: options.ScoreThreshold})
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	vec, err := embedQuery(ctx, options.Embedding, query)
	if err != nil {
		return nil, err
	}

	dim, err := p.dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []*schema.Document{}, nil
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(vec), dim)
	}

	sql := fmt.Sprintf(`
		SELECT id, content, metadata, power(embedding <-> $1, 2) AS distance
		FROM %s
		WHERE ($3::float8 IS NULL OR power(embedding <-> $1, 2) <= $3::float8)
		ORDER BY embedding <-> $1, seq
		LIMIT $2`, p.table)

	rows, err := p.pool.Query(ctx, sql, pgvector.NewVector(toFloat32(vec)), *options.TopK, options.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query failed: %w", err)
	}
	defer rows.Close()

	docs = make([]*schema.Document, 0, *options.TopK)
	for rows.Next() {
		var (
			id, content string
			metaJSON    []byte
			distance    float64
		)
		if err := rows.Scan(&id, &content, &metaJSON, &distance); err != nil {
			return nil, fmt.Errorf("vectorstore: scan row: %w", err)
		}
		meta := map[string]any{}
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("vectorstore: decode metadata for %s: %w", id, err)
		}
		docs = append(docs, (&schema.Document{ID: id, Content: content, MetaData: meta}).WithScore(distance))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: iterate rows: %w", err)
	}

	callbacks.OnEnd(ctx, &retriever.CallbackOutput{Docs: docs})
	return docs, nil
}

// Count 返回表中的文档数量。
func (p *PGVector) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("vectorstore: count: %w", err)
	}
	return n, nil
}

// Reset 清空数据表。
func (p *PGVector) Reset(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, p.table)); err != nil {
		return fmt.Errorf("vectorstore: reset: %w", err)
	}
	return nil
}

// Close 关闭连接池。
func (p *PGVector) Close() error {
	p.pool.Close()
	return nil
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
