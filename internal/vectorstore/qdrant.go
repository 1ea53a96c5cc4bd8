package vectorstore

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"docsearch/internal/contextutil"
)

// Payload field names.
const (
	fieldDocumentID    = "document_id"
	fieldTitle         = "title"
	fieldDescription   = "description"
	fieldFileName      = "file_name"
	fieldFilePath      = "file_path"
	fieldEmployeeName  = "employee_name"
	fieldEmployeeID    = "employee_id"
	fieldDepartment    = "department"
	fieldExtractedText = "extracted_text"
	fieldCreatedAt     = "created_at"
	fieldUpdatedAt     = "updated_at"
	fieldDeleted       = "deleted"
)

// candidateFactor sizes the HNSW candidate pool relative to k.
const candidateFactor = 10

// pointsClient is the subset of *qdrant.Client used by QdrantStore.
type pointsClient interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	// URL is the HTTP URL of the server, e.g. "http://localhost:6333". The
	// gRPC port is derived as HTTP port + 1.
	URL         string
	APIKey      string
	Collection  string
	VectorSize  int
	PingTimeout time.Duration
	// RetryInterval is the minimum time between reconnect attempts after a
	// failed Initialize. Zero retries on every call.
	RetryInterval time.Duration
}

// QdrantStore implements Store using Qdrant. Each document is one point whose
// id is the numeric document id.
type QdrantStore struct {
	client        pointsClient
	collection    string
	vectorSize    int
	pingTimeout   time.Duration
	retryInterval time.Duration

	// connect collapses concurrent reconnect attempts into one ping.
	connect singleflight.Group

	mu          sync.Mutex
	ready       bool
	nextAttempt time.Time
}

// NewQdrantStore creates a Qdrant-backed store. No connection is made until
// Initialize.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err == nil {
			port = httpPort + 1
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   host,
		Port:                   port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 parsedURL.Scheme == "https",
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return newQdrantStore(client, cfg), nil
}

func newQdrantStore(client pointsClient, cfg QdrantConfig) *QdrantStore {
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 3 * time.Second
	}
	return &QdrantStore{
		client:        client,
		collection:    cfg.Collection,
		vectorSize:    cfg.VectorSize,
		pingTimeout:   pingTimeout,
		retryInterval: cfg.RetryInterval,
	}
}

// Initialize pings the server, creates the collection and payload indexes if
// needed and caches success. Failure is logged and retried once the retry
// interval has passed. Concurrent callers share a single attempt, and no lock
// is held across network calls.
func (s *QdrantStore) Initialize(ctx context.Context) bool {
	s.mu.Lock()
	ready, wait := s.ready, time.Now().Before(s.nextAttempt)
	s.mu.Unlock()
	if ready {
		return true
	}
	if wait {
		return false
	}

	v, _, _ := s.connect.Do("connect", func() (any, error) {
		// A flight that finished while this caller was arriving has already
		// decided the outcome.
		s.mu.Lock()
		ready, wait := s.ready, time.Now().Before(s.nextAttempt)
		s.mu.Unlock()
		if ready || wait {
			return ready, nil
		}
		return s.tryConnect(ctx), nil
	})
	return v.(bool)
}

func (s *QdrantStore) tryConnect(ctx context.Context) bool {
	logger := contextutil.LoggerFromContext(ctx)

	ok := func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
		defer cancel()
		if _, err := s.client.HealthCheck(pingCtx); err != nil {
			logger.WarnContext(ctx, "vector index unreachable, semantic search disabled", "collection", s.collection, "error", err)
			return false
		}

		setupCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
		defer cancel()
		if err := s.ensureCollection(setupCtx); err != nil {
			logger.ErrorContext(ctx, "failed to prepare collection", "collection", s.collection, "error", err)
			return false
		}
		return true
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.nextAttempt = time.Now().Add(s.retryInterval)
		return false
	}
	s.ready = true
	s.nextAttempt = time.Time{}
	logger.InfoContext(ctx, "vector index ready", "collection", s.collection, "vector_size", s.vectorSize)
	return true
}

// Available reports whether the index was reachable at the last check.
func (s *QdrantStore) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// markUnavailable forces the next operation to re-initialize after a
// connectivity failure. It reports whether err was one.
func (s *QdrantStore) markUnavailable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		s.mu.Lock()
		s.ready = false
		s.mu.Unlock()
		return true
	}
	return false
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		logger.InfoContext(ctx, "creating collection", "collection", s.collection, "vector_size", s.vectorSize)
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	} else {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return fmt.Errorf("failed to get collection info: %w", err)
		}
		if size := collectionVectorSize(info); size != 0 && size != s.vectorSize {
			logger.WarnContext(ctx, "collection vector size differs from configuration",
				"collection", s.collection, "expected", s.vectorSize, "actual", size)
		}
	}

	indexes := []struct {
		field string
		typ   qdrant.FieldType
	}{
		{fieldDepartment, qdrant.FieldType_FieldTypeKeyword},
		{fieldEmployeeID, qdrant.FieldType_FieldTypeInteger},
		{fieldDeleted, qdrant.FieldType_FieldTypeBool},
	}
	for _, idx := range indexes {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			FieldName:      idx.field,
			FieldType:      qdrant.PtrOf(idx.typ),
		})
		if err != nil {
			return fmt.Errorf("failed to create payload index %s: %w", idx.field, err)
		}
	}
	return nil
}

func collectionVectorSize(info *qdrant.CollectionInfo) int {
	if info == nil || info.Config == nil || info.Config.Params == nil {
		return 0
	}
	if params := info.Config.Params.GetVectorsConfig().GetParams(); params != nil {
		return int(params.Size)
	}
	return 0
}

// Upsert writes the embedding and metadata for a document. The write waits
// for the index to apply it, so the document is searchable on return.
func (s *QdrantStore) Upsert(ctx context.Context, documentID int64, vec []float32, meta Metadata, extractedText string) (bool, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if err := validateVector(vec); err != nil {
		return false, err
	}
	if len(vec) != s.vectorSize {
		logger.WarnContext(ctx, "embedding size differs from collection", "document_id", documentID, "expected", s.vectorSize, "actual", len(vec))
	}

	if !s.Initialize(ctx) {
		logger.WarnContext(ctx, "skipping upsert, vector index unavailable", "document_id", documentID)
		return false, nil
	}

	payload, err := qdrant.TryValueMap(map[string]any{
		fieldDocumentID:    documentID,
		fieldTitle:         meta.Title,
		fieldDescription:   meta.Description,
		fieldFileName:      meta.FileName,
		fieldFilePath:      meta.FilePath,
		fieldEmployeeName:  meta.EmployeeName,
		fieldEmployeeID:    meta.EmployeeID,
		fieldDepartment:    meta.Department,
		fieldExtractedText: extractedText,
		fieldCreatedAt:     formatTime(meta.CreatedAt),
		fieldUpdatedAt:     formatTime(meta.UpdatedAt),
		fieldDeleted:       false,
	})
	if err != nil {
		return false, &StorageError{Op: "upsert", Err: err}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDNum(uint64(documentID)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: payload,
		}},
	})
	if err != nil {
		if s.markUnavailable(err) {
			logger.WarnContext(ctx, "vector index lost during upsert", "collection", s.collection, "document_id", documentID, "error", err)
			return false, nil
		}
		logger.ErrorContext(ctx, "failed to upsert embedding", "collection", s.collection, "document_id", documentID, "error", err)
		return false, &StorageError{Op: "upsert", Err: err}
	}

	logger.InfoContext(ctx, "upserted embedding", "collection", s.collection, "document_id", documentID)
	return true, nil
}

// Get returns the stored record for a document.
func (s *QdrantStore) Get(ctx context.Context, documentID int64) (*Record, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if !s.Initialize(ctx) {
		return nil, nil
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(uint64(documentID))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		s.markUnavailable(err)
		logger.WarnContext(ctx, "failed to get embedding", "document_id", documentID, "error", err)
		return nil, nil
	}
	if len(points) == 0 {
		return nil, nil
	}

	p := points[0]
	rec := &Record{
		DocumentID:    documentID,
		ExtractedText: p.GetPayload()[fieldExtractedText].GetStringValue(),
		Deleted:       p.GetPayload()[fieldDeleted].GetBoolValue(),
		Metadata:      metadataFromPayload(p.GetPayload()),
	}
	out := p.GetVectors().GetVector()
	if dense := out.GetDense(); dense != nil {
		rec.Embedding = dense.GetData()
	} else {
		// Older servers only fill the flat data field.
		rec.Embedding = out.GetData() //nolint:staticcheck
	}
	return rec, nil
}

// Delete removes the point for a document. Deleting a missing point succeeds.
func (s *QdrantStore) Delete(ctx context.Context, documentID int64) bool {
	logger := contextutil.LoggerFromContext(ctx)

	if !s.Initialize(ctx) {
		logger.WarnContext(ctx, "skipping delete, vector index unavailable", "document_id", documentID)
		return false
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrant.NewIDNum(uint64(documentID))),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return true
		}
		s.markUnavailable(err)
		logger.ErrorContext(ctx, "failed to delete embedding", "collection", s.collection, "document_id", documentID, "error", err)
		return false
	}

	logger.InfoContext(ctx, "deleted embedding", "collection", s.collection, "document_id", documentID)
	return true
}

// Search returns the K nearest non-deleted documents that satisfy the filter.
func (s *QdrantStore) Search(ctx context.Context, vec []float32, opts SearchOptions) (*SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if opts.K <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}
	if err := validateVector(vec); err != nil {
		return nil, err
	}
	if !s.Initialize(ctx) {
		return nil, ErrIndexUnavailable
	}

	filter := buildFilter(opts.Filter)
	limit := uint64(opts.K)
	ef := uint64(opts.K * candidateFactor)

	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Filter:         filter,
		Params:         &qdrant.SearchParams{HnswEf: &ef},
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, s.searchError(ctx, "search", err)
	}

	total, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, s.searchError(ctx, "count", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, p := range scored {
		payload := p.GetPayload()
		id := int64(p.GetId().GetNum())
		if v, ok := payload[fieldDocumentID]; ok {
			id = v.GetIntegerValue()
		}
		hits = append(hits, Hit{
			DocumentID: id,
			Score:      float64(p.GetScore()),
			Metadata:   metadataFromPayload(payload),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	logger.InfoContext(ctx, "search completed", "collection", s.collection, "k", opts.K, "results", len(hits), "total_hits", total)
	return &SearchResult{Hits: hits, TotalHits: int(total)}, nil
}

// searchError maps a failed query to ErrIndexUnavailable when the server is
// unreachable and to a StorageError otherwise.
func (s *QdrantStore) searchError(ctx context.Context, op string, err error) error {
	logger := contextutil.LoggerFromContext(ctx)
	if s.markUnavailable(err) {
		logger.WarnContext(ctx, "vector index lost during "+op, "collection", s.collection, "error", err)
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	logger.ErrorContext(ctx, "failed to "+op+" embeddings", "collection", s.collection, "error", err)
	return &StorageError{Op: op, Err: err}
}

// Close releases the client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// buildFilter always excludes deleted documents.
func buildFilter(f Filter) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatchBool(fieldDeleted, false)}

	switch len(f.Departments) {
	case 0:
	case 1:
		must = append(must, qdrant.NewMatchKeyword(fieldDepartment, f.Departments[0]))
	default:
		must = append(must, qdrant.NewMatchKeywords(fieldDepartment, f.Departments...))
	}

	if f.EmployeeID != nil {
		must = append(must, qdrant.NewMatchInt(fieldEmployeeID, *f.EmployeeID))
	}
	return &qdrant.Filter{Must: must}
}

func validateVector(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value at %d", ErrInvalidEmbedding, i)
		}
	}
	return nil
}

func metadataFromPayload(payload map[string]*qdrant.Value) Metadata {
	return Metadata{
		Title:        payload[fieldTitle].GetStringValue(),
		Description:  payload[fieldDescription].GetStringValue(),
		FileName:     payload[fieldFileName].GetStringValue(),
		FilePath:     payload[fieldFilePath].GetStringValue(),
		EmployeeName: payload[fieldEmployeeName].GetStringValue(),
		EmployeeID:   payload[fieldEmployeeID].GetIntegerValue(),
		Department:   payload[fieldDepartment].GetStringValue(),
		CreatedAt:    parseTime(payload[fieldCreatedAt].GetStringValue()),
		UpdatedAt:    parseTime(payload[fieldUpdatedAt].GetStringValue()),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
