// Package milvus stores units in a Milvus collection through the v2 SDK.
package milvus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"agrirag/internal/domain"
	"agrirag/internal/vectorstore"
)

const (
	fieldID        = "id"
	fieldEmbedding = "embedding"
	fieldText      = "text"
	fieldMetadata  = "metadata"
	fieldSource    = "source"
	fieldBatch     = "batch"
	fieldRow       = "row"
	fieldSeq       = "seq"

	maxVarChar = 65535
)

var outputFields = []string{fieldText, fieldMetadata, fieldSource, fieldBatch, fieldRow, fieldSeq}

// Config holds connection settings.
type Config struct {
	Address    string
	Username   string
	Password   string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Storage keeps units in one Milvus collection with a COSINE IVF_FLAT index.
type Storage struct {
	client     *milvusclient.Client
	collection string
	dimension  int
}

// New connects to Milvus.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Address == "" || cfg.Collection == "" {
		return nil, domain.Configurationf("milvus needs address and collection")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := milvusclient.New(cctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, domain.Wrap(domain.ErrConfiguration, "connecting to milvus", err)
	}
	return &Storage{client: c, collection: cfg.Collection}, nil
}

// Init creates and loads the collection if it does not exist yet.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		coll, err := s.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(s.collection))
		if err != nil {
			return fmt.Errorf("failed to describe collection: %w", err)
		}
		if have := schemaDimension(coll.Schema); have != 0 && have != dimension {
			return domain.Configurationf("milvus collection %s has dimension %d, embedder produced %d", s.collection, have, dimension)
		}
		s.dimension = dimension
		return s.load(ctx)
	}

	if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.collection, buildSchema(s.collection, dimension))); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	idx := index.NewIvfFlatIndex(entity.COSINE, 128)
	createIdxTask, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, fieldEmbedding, idx))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := createIdxTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for index creation: %w", err)
	}
	s.dimension = dimension
	return s.load(ctx)
}

func (s *Storage) load(ctx context.Context) error {
	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	return nil
}

func buildSchema(name string, dimension int) *entity.Schema {
	return entity.NewSchema().
		WithName(name).
		WithDescription("agricultural price units").
		WithAutoID(true).
		WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeInt64).WithIsPrimaryKey(true).WithIsAutoID(true)).
		WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dimension))).
		WithField(entity.NewField().WithName(fieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxVarChar)).
		WithField(entity.NewField().WithName(fieldMetadata).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxVarChar)).
		WithField(entity.NewField().WithName(fieldSource).WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024)).
		WithField(entity.NewField().WithName(fieldBatch).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
		WithField(entity.NewField().WithName(fieldRow).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldSeq).WithDataType(entity.FieldTypeInt64))
}

func schemaDimension(schema *entity.Schema) int {
	if schema == nil {
		return 0
	}
	for _, f := range schema.Fields {
		if f.Name != fieldEmbedding {
			continue
		}
		dim, err := strconv.Atoi(f.TypeParams[entity.TypeParamDim])
		if err != nil {
			return 0
		}
		return dim
	}
	return 0
}

// Add inserts the batch as one column-based insert and flushes it.
func (s *Storage) Add(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	if s.dimension == 0 {
		return errors.New("milvus store not initialised")
	}
	columns, err := buildColumns(records, s.dimension, time.Now().UnixNano())
	if err != nil {
		return err
	}
	if _, err := s.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(s.collection, columns...)); err != nil {
		return fmt.Errorf("failed to insert data: %w", err)
	}
	flushTask, err := s.client.Flush(ctx, milvusclient.NewFlushOption(s.collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}
	return nil
}

// buildColumns turns records into insert columns. seq numbers start at base
// so later appends sort after earlier ones on equal scores.
func buildColumns(records []vectorstore.Record, dimension int, base int64) ([]column.Column, error) {
	n := len(records)
	var (
		vectors = make([][]float32, n)
		texts   = make([]string, n)
		metas   = make([]string, n)
		sources = make([]string, n)
		batches = make([]string, n)
		rows    = make([]int64, n)
		seqs    = make([]int64, n)
	)
	for i, r := range records {
		if len(r.Vector) != dimension {
			return nil, fmt.Errorf("record %d: vector dimension %d, want %d", i, len(r.Vector), dimension)
		}
		meta := r.Unit.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshalling metadata of record %d: %w", i, err)
		}
		vectors[i] = r.Vector
		texts[i] = r.Unit.Text
		metas[i] = string(b)
		sources[i] = r.Unit.Origin.Source
		batches[i] = r.Unit.Origin.Batch
		rows[i] = int64(r.Unit.Origin.Row)
		seqs[i] = base + int64(i)
	}
	return []column.Column{
		column.NewColumnFloatVector(fieldEmbedding, dimension, vectors),
		column.NewColumnVarChar(fieldText, texts),
		column.NewColumnVarChar(fieldMetadata, metas),
		column.NewColumnVarChar(fieldSource, sources),
		column.NewColumnVarChar(fieldBatch, batches),
		column.NewColumnInt64(fieldRow, rows),
		column.NewColumnInt64(fieldSeq, seqs),
	}, nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return []domain.Hit{}, nil
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	results, err := s.client.Search(ctx, milvusclient.NewSearchOption(
		s.collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(fieldEmbedding).
		WithSearchParam("nprobe", "16").
		WithOutputFields(outputFields...))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return []domain.Hit{}, nil
	}

	rs := results[0]
	units := make([]domain.Unit, rs.ResultCount)
	cands := make([]vectorstore.Scored, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		u, seq, err := unitAt(rs.Fields, i)
		if err != nil {
			return nil, err
		}
		units[i] = u
		cands = append(cands, vectorstore.Scored{Seq: seq, Score: float64(rs.Scores[i]), Pos: i})
	}
	top := vectorstore.TopK(cands, topK)
	hits := make([]domain.Hit, 0, len(top))
	for _, c := range top {
		hits = append(hits, domain.Hit{Unit: units[c.Pos], Score: c.Score})
	}
	return hits, nil
}

// unitAt rebuilds the i-th unit from search output columns.
func unitAt(fields []column.Column, i int) (domain.Unit, int64, error) {
	var (
		u   domain.Unit
		seq int64
	)
	for _, field := range fields {
		switch col := field.(type) {
		case *column.ColumnVarChar:
			v := col.Data()[i]
			switch col.Name() {
			case fieldText:
				u.Text = v
			case fieldSource:
				u.Origin.Source = v
			case fieldBatch:
				u.Origin.Batch = v
			case fieldMetadata:
				if err := json.Unmarshal([]byte(v), &u.Metadata); err != nil {
					return u, 0, fmt.Errorf("unmarshalling metadata: %w", err)
				}
			}
		case *column.ColumnInt64:
			v := col.Data()[i]
			switch col.Name() {
			case fieldRow:
				u.Origin.Row = int(v)
			case fieldSeq:
				seq = v
			}
		}
	}
	return u, seq, nil
}

func (s *Storage) Count(ctx context.Context) (int64, error) {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return 0, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return 0, nil
	}
	stats, err := s.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(s.collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}
	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}

func (s *Storage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Close(ctx)
}

var _ vectorstore.Storage = (*Storage)(nil)
