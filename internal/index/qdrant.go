package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/embedder"
)

// Payload keys written for every point.
const (
	keyDocumentID = "document_id"
	keyOwnerID    = "owner_id"
	keyChunkIndex = "chunk_index"
	keyStart      = "start"
	keyEnd        = "end"
	keyText       = "text"
	keyTopics     = "topics"
	keySeq        = "seq"

	// The collection's embedder identity lives on a marker point that every
	// query and delete filters out.
	keyKind      = "kind"
	keyModel     = "model"
	keyDimension = "dimension"
	kindIdentity = "identity"
)

// identityPointID is the fixed id of the identity marker point.
var identityPointID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("studyai/index-identity")).String()

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use (default: studyai_chunks).
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements Index backed by a Qdrant collection using cosine
// distance. Insertion order is kept in a "seq" payload field so ties are
// broken the same way as the MemoryIndex.
type QdrantIndex struct {
	client *qdrant.Client
	cfg    QdrantConfig
	id     embedder.Identity
	seq    atomic.Int64
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists with
// the dimension of id.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig, id embedder.Identity) (*QdrantIndex, error) {
	c := *cfg
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "studyai_chunks"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.StageIndex, apperr.KindIndexUnavailable, "qdrant connect", err)
	}

	ix := &QdrantIndex{client: client, cfg: c, id: id}
	ix.seq.Store(time.Now().UnixNano())
	if err := ix.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return ix, nil
}

// ensureCollection creates the collection, its keyword payload indexes and
// its identity marker when the collection does not exist yet. An existing
// collection must have been built for the same embedder identity.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return classify("qdrant collection exists", err)
	}
	if exists {
		return q.checkIdentity(ctx)
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.id.Dimension), //nolint:gosec // dimension is positive
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classify(fmt.Sprintf("qdrant create collection %q", q.cfg.Collection), err)
	}

	for _, field := range []string{keyDocumentID, keyOwnerID, keyKind} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.cfg.Collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return classify("qdrant create field index "+field, err)
		}
	}
	return q.writeIdentity(ctx)
}

// checkIdentity compares an existing collection's vector size and recorded
// model with q.id. A collection from before the marker existed gets one
// once its vector size has been confirmed.
func (q *QdrantIndex) checkIdentity(ctx context.Context) error {
	info, err := q.client.GetCollectionInfo(ctx, q.cfg.Collection)
	if err != nil {
		return classify("qdrant collection info", err)
	}
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.cfg.Collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(identityPointID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return classify("qdrant get identity", err)
	}
	var marker map[string]*qdrant.Value
	if len(points) > 0 {
		marker = points[0].GetPayload()
	}
	if err := compareIdentity(q.cfg.Collection, q.id, collectionVectorSize(info), marker); err != nil {
		return err
	}
	if marker == nil {
		return q.writeIdentity(ctx)
	}
	return nil
}

// writeIdentity stores the marker point recording q.id.
func (q *QdrantIndex) writeIdentity(ctx context.Context) error {
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(identityPointID),
			Vectors: qdrant.NewVectors(markerVector(q.id.Dimension)...),
			Payload: qdrant.NewValueMap(identityPayload(q.id)),
		}},
	})
	if err != nil {
		return classify("qdrant write identity", err)
	}
	return nil
}

// collectionVectorSize returns the single unnamed vector size of a
// collection, or 0 when the collection uses named vectors.
func collectionVectorSize(info *qdrant.CollectionInfo) uint64 {
	return info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
}

func identityPayload(id embedder.Identity) map[string]any {
	return map[string]any{
		keyKind:      kindIdentity,
		keyModel:     id.Model,
		keyDimension: int64(id.Dimension),
	}
}

// markerVector is a unit vector; cosine distance cannot store a zero vector.
func markerVector(dim int) []float32 {
	v := make([]float32, dim)
	if dim > 0 {
		v[0] = 1
	}
	return v
}

// compareIdentity reports a DimensionMismatch when a stored collection was
// built for a different embedder than want. A nil marker only checks the
// vector size.
func compareIdentity(collection string, want embedder.Identity, size uint64, marker map[string]*qdrant.Value) error {
	mismatch := func(got string) error {
		return apperr.New(apperr.StageIndex, apperr.KindDimensionMismatch, "qdrant open",
			fmt.Sprintf("collection %q holds %s vectors, embedder is %s/%d; re-ingest into a new collection",
				collection, got, want.Model, want.Dimension))
	}
	if size != uint64(want.Dimension) { //nolint:gosec // dimension is positive
		return mismatch(fmt.Sprintf("%d-dimension", size))
	}
	if marker == nil {
		return nil
	}
	model := marker[keyModel].GetStringValue()
	dim := marker[keyDimension].GetIntegerValue()
	if model != want.Model || dim != int64(want.Dimension) {
		return mismatch(fmt.Sprintf("%s/%d", model, dim))
	}
	return nil
}

// Identity reports the embedder identity the collection was created for. It
// is verified against the stored collection when the index is opened.
func (q *QdrantIndex) Identity() embedder.Identity { return q.id }

// Client exposes the underlying client for readiness checks.
func (q *QdrantIndex) Client() *qdrant.Client { return q.client }

// Upsert writes records in one request after validating all of them.
func (q *QdrantIndex) Upsert(ctx context.Context, records ...Record) error {
	if err := validateRecords(q.id.Dimension, records); err != nil {
		return err
	}
	for _, r := range records {
		if _, err := uuid.Parse(r.ChunkID); err != nil {
			return apperr.New(apperr.StageIndex, apperr.KindInvalidInput, "upsert",
				fmt.Sprintf("chunk id %q is not a UUID", r.ChunkID))
		}
	}
	if len(records) == 0 {
		return nil
	}

	seqs, err := q.existingSeqs(ctx, records)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		seq, ok := seqs[r.ChunkID]
		if !ok {
			seq = q.seq.Add(1)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ChunkID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(payloadFor(r.Metadata, seq)),
		})
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return classify("qdrant upsert", err)
	}
	return nil
}

// existingSeqs returns the stored seq of every record already present.
func (q *QdrantIndex) existingSeqs(ctx context.Context, records []Record) (map[string]int64, error) {
	ids := make([]*qdrant.PointId, 0, len(records))
	for _, r := range records {
		ids = append(ids, qdrant.NewIDUUID(r.ChunkID))
	}
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.cfg.Collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayloadInclude(keySeq),
	})
	if err != nil {
		return nil, classify("qdrant get", err)
	}
	out := make(map[string]int64, len(points))
	for _, p := range points {
		if v, ok := p.GetPayload()[keySeq]; ok {
			out[p.GetId().GetUuid()] = v.GetIntegerValue()
		}
	}
	return out, nil
}

// Query asks Qdrant for the nearest points and re-orders equal scores by seq.
// A few extra points are requested so ties at the cut are resolved locally.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := validateQuery(q.id.Dimension, vector, topK); err != nil {
		return nil, err
	}

	limit := uint64(topK + tieSlack(topK)) //nolint:gosec // topK is positive
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []Match{}, nil
		}
		return nil, classify("qdrant query", err)
	}

	type scored struct {
		match Match
		seq   int64
	}
	hits := make([]scored, 0, len(results))
	for _, r := range results {
		md, seq := metadataFromPayload(r.GetPayload())
		hits = append(hits, scored{
			match: Match{ChunkID: r.GetId().GetUuid(), Score: r.GetScore(), Metadata: md},
			seq:   seq,
		})
	}
	slices.SortStableFunc(hits, func(a, b scored) int {
		if c := cmp.Compare(b.match.Score, a.match.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]Match, 0, min(topK, len(hits)))
	for _, h := range hits[:min(topK, len(hits))] {
		out = append(out, h.match)
	}
	return out, nil
}

// DeleteDocument removes every point whose document_id matches.
func (q *QdrantIndex) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(buildFilter(Filter{DocumentID: documentID})),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return classify("qdrant delete", err)
	}
	return nil
}

// Ping checks that Qdrant is reachable.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return classify("qdrant health", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func tieSlack(topK int) int {
	return max(4, topK/2)
}

// buildFilter turns f into Must conditions. The identity marker is always
// excluded.
func buildFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.DocumentID != "" {
		must = append(must, qdrant.NewMatch(keyDocumentID, f.DocumentID))
	}
	if f.OwnerID != "" {
		must = append(must, qdrant.NewMatch(keyOwnerID, f.OwnerID))
	}
	return &qdrant.Filter{
		Must:    must,
		MustNot: []*qdrant.Condition{qdrant.NewMatch(keyKind, kindIdentity)},
	}
}

func payloadFor(m Metadata, seq int64) map[string]any {
	topics := make([]any, 0, len(m.Topics))
	for _, t := range m.Topics {
		topics = append(topics, t)
	}
	return map[string]any{
		keyDocumentID: m.DocumentID,
		keyOwnerID:    m.OwnerID,
		keyChunkIndex: int64(m.ChunkIndex),
		keyStart:      int64(m.Start),
		keyEnd:        int64(m.End),
		keyText:       m.Text,
		keyTopics:     topics,
		keySeq:        seq,
	}
}

func metadataFromPayload(p map[string]*qdrant.Value) (Metadata, int64) {
	md := Metadata{
		DocumentID: p[keyDocumentID].GetStringValue(),
		OwnerID:    p[keyOwnerID].GetStringValue(),
		ChunkIndex: int(p[keyChunkIndex].GetIntegerValue()),
		Start:      int(p[keyStart].GetIntegerValue()),
		End:        int(p[keyEnd].GetIntegerValue()),
		Text:       p[keyText].GetStringValue(),
	}
	for _, v := range p[keyTopics].GetListValue().GetValues() {
		md.Topics = append(md.Topics, v.GetStringValue())
	}
	return md, p[keySeq].GetIntegerValue()
}

// classify maps a Qdrant client error onto the taxonomy. A vector of the
// wrong size is a DimensionMismatch; other argument errors are the caller's
// fault; everything else is treated as the index being down.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition:
		if strings.Contains(strings.ToLower(status.Convert(err).Message()), "dimension") {
			return apperr.Wrap(apperr.StageIndex, apperr.KindDimensionMismatch, op, err)
		}
		return apperr.Wrap(apperr.StageIndex, apperr.KindInvalidInput, op, err)
	default:
		return apperr.Wrap(apperr.StageIndex, apperr.KindIndexUnavailable, op, err)
	}
}
