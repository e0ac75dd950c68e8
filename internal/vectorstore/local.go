package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const localSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	content   TEXT NOT NULL,
	metadata  TEXT NOT NULL DEFAULT '{}',
	embedding BLOB NOT NULL
);
`

// LocalFileName 是本地索引目录中的数据库文件名。
const LocalFileName = "index.db"

type localEntry struct {
	id       string
	content  string
	metadata map[string]any
	vector   []float64
}

// Local 是持久化在本地目录中的精确检索索引。向量全部加载到内存中按平方 L2 距离排序。
type Local struct {
	db       *sql.DB
	embedder embedding.Embedder

	mu      sync.RWMutex
	dim     int
	entries []localEntry
	byID    map[string]int
}

// NewLocal 打开（或创建）dir 下的索引文件，并加载全部向量。
func NewLocal(dir string, embedder embedding.Embedder) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("vectorstore: index directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: create index dir: %w", err)
	}

	dsn := filepath.Join(dir, LocalFileName)
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorstore: ping: %w", err)
	}
	if _, err := db.Exec(localSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorstore: apply schema: %w", err)
	}

	l := &Local{db: db, embedder: embedder, byID: make(map[string]int)}
	if err := l.load(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Local) load() error {
	rows, err := l.db.Query(`SELECT id, content, metadata, embedding FROM documents ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("vectorstore: load index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e        localEntry
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&e.id, &e.content, &metaJSON, &blob); err != nil {
			return fmt.Errorf("vectorstore: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &e.metadata); err != nil {
			return fmt.Errorf("vectorstore: decode metadata for %s: %w", e.id, err)
		}
		if e.vector, err = decodeVector(blob); err != nil {
			return fmt.Errorf("vectorstore: decode vector for %s: %w", e.id, err)
		}
		if l.dim == 0 {
			l.dim = len(e.vector)
		}
		if len(e.vector) != l.dim {
			return fmt.Errorf("%w: stored vector %s has %d dimensions, want %d", ErrDimensionMismatch, e.id, len(e.vector), l.dim)
		}
		l.byID[e.id] = len(l.entries)
		l.entries = append(l.entries, e)
	}
	return rows.Err()
}

// GetType 返回组件类型名，用于回调中的 RunInfo。
func (l *Local) GetType() string { return "LocalVectorStore" }

// Store 向量化并写入文档；已存在的 ID 会被原位替换。
func (l *Local) Store(ctx context.Context, docs []*schema.Document, opts ...indexer.Option) (ids []string, err error) {
	ctx = callbacks.EnsureRunInfo(ctx, l.GetType(), components.ComponentOfIndexer)
	ctx = callbacks.OnStart(ctx, &indexer.CallbackInput{Docs: docs})
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	options, err := indexOptions(l.embedder, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	l.mu.RLock()
	dim := l.dim
	l.mu.RUnlock()

	vectors, dim, err := embedDocuments(ctx, options.Embedding, docs, dim)
	if err != nil {
		return nil, err
	}

	entries := make([]localEntry, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		entries[i] = localEntry{id: id, content: doc.Content, metadata: cloneMetadata(doc.MetaData), vector: vectors[i]}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dim != 0 && l.dim != dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, dim, l.dim)
	}
	if err := l.persist(ctx, entries); err != nil {
		return nil, err
	}

	l.dim = dim
	ids = make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
		if idx, ok := l.byID[e.id]; ok {
			l.entries[idx] = e
			continue
		}
		l.byID[e.id] = len(l.entries)
		l.entries = append(l.entries, e)
	}

	callbacks.OnEnd(ctx, &indexer.CallbackOutput{IDs: ids})
	return ids, nil
}

func (l *Local) persist(ctx context.Context, entries []localEntry) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, content, metadata, embedding) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata, embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("vectorstore: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		meta := e.metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("vectorstore: encode metadata for %s: %w", e.id, err)
		}
		if _, err := stmt.ExecContext(ctx, e.id, e.content, string(metaJSON), encodeVector(e.vector)); err != nil {
			return fmt.Errorf("vectorstore: upsert %s: %w", e.id, err)
		}
	}
	return tx.Commit()
}

// Retrieve 返回与查询最相近的文档，按平方 L2 距离升序；距离相同时保持写入顺序。
func (l *Local) Retrieve(ctx context.Context, query string, opts ...retriever.Option) (docs []*schema.Document, err error) {
	options, err := retrieveOptions(l.embedder, opts)
	if err != nil {
		return nil, err
	}

	ctx = callbacks.EnsureRunInfo(ctx, l.GetType(), components.ComponentOfRetriever)
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

	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return []*schema.Document{}, nil
	}
	if len(vec) != l.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(vec), l.dim)
	}

	type scored struct {
		idx  int
		dist float64
	}
	ranked := make([]scored, 0, len(l.entries))
	for i, e := range l.entries {
		dist := squaredL2(vec, e.vector)
		if options.ScoreThreshold != nil && dist > *options.ScoreThreshold {
			continue
		}
		ranked = append(ranked, scored{idx: i, dist: dist})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	if len(ranked) > *options.TopK {
		ranked = ranked[:*options.TopK]
	}

	docs = make([]*schema.Document, len(ranked))
	for i, r := range ranked {
		e := l.entries[r.idx]
		docs[i] = (&schema.Document{ID: e.id, Content: e.content, MetaData: cloneMetadata(e.metadata)}).WithScore(r.dist)
	}

	callbacks.OnEnd(ctx, &retriever.CallbackOutput{Docs: docs})
	return docs, nil
}

// Count 返回索引中的文档数量。
func (l *Local) Count(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Reset 清空索引（包括磁盘数据）。
func (l *Local) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("vectorstore: reset: %w", err)
	}
	l.entries = nil
	l.byID = make(map[string]int)
	l.dim = 0
	return nil
}

// Close 关闭底层数据库连接。
func (l *Local) Close() error {
	return l.db.Close()
}

func encodeVector(vec []float64) []byte {
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(buf))
	}
	vec := make([]float64, len(buf)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec, nil
}
