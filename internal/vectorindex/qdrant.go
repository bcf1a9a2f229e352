package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/dermagraph/internal/atom"
	"github.com/lazypower/dermagraph/internal/logger"
)

const (
	payloadAtomIDKey  = "atom_id"
	maxErrorBodyBytes = 1024
)

var pointIDNamespace = uuid.MustParse("5b3c1f0e-92d4-4d0b-a0a7-3e7c4f1d9e62")

// QdrantConfig locates the collection. One collection holds both spaces as
// named vectors.
type QdrantConfig struct {
	URL        string
	Collection string
	APIKey     string
	Dims       atom.Dimensions
	Timeout    time.Duration
}

// Qdrant is a Client backed by a Qdrant collection with two named vectors:
// "semantic" (cosine) and "tensor" (euclid).
type Qdrant struct {
	cfg     QdrantConfig
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// Point is one atom's entry in the collection.
type Point struct {
	AtomID   string
	Semantic []float64
	Tensor   []float64
	Payload  map[string]any
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewQdrant(cfg QdrantConfig, log *logger.Logger) (*Qdrant, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("qdrant: url required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant: collection required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Qdrant{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log.With("component", "QdrantVectorIndex", "collection", cfg.Collection),
	}, nil
}

// PointID derives the point id of an atom. Re-syncing an atom overwrites
// its point.
func PointID(atomID string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(atomID)).String()
}

func (q *Qdrant) Query(ctx context.Context, space Space, vector []float64, topK int) ([]Match, error) {
	const op = "query"
	if !space.Valid() {
		return nil, opErr(op, fmt.Sprintf("invalid space %q", space), nil)
	}
	if err := atom.CheckDimension(string(space), vector, q.dim(space)); err != nil {
		return nil, opErr(op, "query vector rejected", err)
	}
	if topK <= 0 {
		return nil, nil
	}

	req := map[string]any{
		"vector":       map[string]any{"name": string(space), "vector": vector},
		"limit":        topK,
		"with_payload": []string{payloadAtomIDKey},
		"with_vector":  false,
	}
	var raw []qdrantSearchResultItem
	if err := q.doJSON(ctx, op, http.MethodPost, q.collectionPath("/points/search"), req, &raw); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(raw))
	for _, item := range raw {
		id, _ := item.Payload[payloadAtomIDKey].(string)
		if strings.TrimSpace(id) == "" {
			q.log.Warn("qdrant point without atom id", "point_id", string(item.ID))
			continue
		}
		out = append(out, Match{AtomID: id, Distance: scoreToDistance(space, item.Score)})
	}
	SortMatches(out)
	return out, nil
}

// scoreToDistance maps Qdrant's score back to the distance Client promises.
// Cosine collections report similarity; euclid collections report the
// distance itself.
func scoreToDistance(space Space, score float64) float64 {
	if space == Tensor {
		if score < 0 {
			return -score
		}
		return score
	}
	return 1 - score
}

// Upsert writes points with both named vectors.
func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}

	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		if strings.TrimSpace(p.AtomID) == "" {
			return opErr(op, "atom id is required", nil)
		}
		if err := atom.CheckDimension("semantic", p.Semantic, q.cfg.Dims.Semantic); err != nil {
			return opErr(op, "point "+p.AtomID, err)
		}
		if err := atom.CheckDimension("tensor", p.Tensor, q.cfg.Dims.Tensor); err != nil {
			return opErr(op, "point "+p.AtomID, err)
		}
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[payloadAtomIDKey] = p.AtomID
		body = append(body, map[string]any{
			"id":      PointID(p.AtomID),
			"vector":  map[string]any{string(Semantic): p.Semantic, string(Tensor): p.Tensor},
			"payload": payload,
		})
	}
	return q.doJSON(ctx, op, http.MethodPut, q.collectionPath("/points?wait=true"), map[string]any{"points": body}, nil)
}

// EnsureCollection creates the collection when it does not exist and checks
// the vector sizes of an existing one.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	const op = "ensure_collection"

	var info struct {
		Config struct {
			Params struct {
				Vectors map[string]struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := q.doJSON(ctx, op, http.MethodGet, q.collectionPath(""), nil, &info)
	var opErrTyped *OperationError
	switch {
	case err == nil:
		for _, space := range Spaces {
			got := info.Config.Params.Vectors[string(space)].Size
			if got != q.dim(space) {
				return opErr(op, fmt.Sprintf("collection %q %s vector size %d, expected %d",
					q.cfg.Collection, space, got, q.dim(space)), atom.ErrDimensionMismatch)
			}
		}
		return nil
	case errors.As(err, &opErrTyped) && opErrTyped.StatusCode == http.StatusNotFound:
	default:
		return err
	}

	q.log.Info("creating qdrant collection", "semantic_dim", q.cfg.Dims.Semantic, "tensor_dim", q.cfg.Dims.Tensor)
	req := map[string]any{
		"vectors": map[string]any{
			string(Semantic): map[string]any{"size": q.cfg.Dims.Semantic, "distance": "Cosine"},
			string(Tensor):   map[string]any{"size": q.cfg.Dims.Tensor, "distance": "Euclid"},
		},
	}
	return q.doJSON(ctx, op, http.MethodPut, q.collectionPath(""), req, nil)
}

func (q *Qdrant) dim(space Space) int {
	if space == Tensor {
		return q.cfg.Dims.Tensor
	}
	return q.cfg.Dims.Semantic
}

func (q *Qdrant) collectionPath(suffix string) string {
	return "/collections/" + q.cfg.Collection + suffix
}

func (q *Qdrant) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, body)
	if err != nil {
		return opErr(op, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.cfg.APIKey != "" {
		req.Header.Set("api-key", q.cfg.APIKey)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return opErr(op, "read response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, "decode qdrant envelope failed", err)
	}
	if msg := parseEnvelopeStatus(envelope.Status); msg != "" {
		return &OperationError{Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, "decode qdrant result failed", err)
	}
	return nil
}

// OperationError describes a failed Qdrant call.
type OperationError struct {
	Operation  string
	StatusCode int
	Timeout    bool
	Message    string
	Cause      error
}

func (e *OperationError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("qdrant %s failed (status=%d): %s: %v", e.Operation, e.StatusCode, e.Message, e.Cause)
	default:
		return fmt.Sprintf("qdrant %s failed (status=%d): %s", e.Operation, e.StatusCode, e.Message)
	}
}

func (e *OperationError) Unwrap() error { return e.Cause }

func opErr(op, msg string, cause error) error {
	return &OperationError{Operation: op, Message: msg, Cause: cause}
}

func classifyHTTPCallError(op string, err error) error {
	e := &OperationError{Operation: op, Message: "qdrant request failed", Cause: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		e.Timeout = true
	}
	return e
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.EqualFold(s, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", s)
	}

	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Error) != "" {
		return strings.TrimSpace(obj.Error)
	}
	return "qdrant status=" + status
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
