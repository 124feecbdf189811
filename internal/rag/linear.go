package rag

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/54b3r/lawrag/internal/logging"
)

// File names of the two artifacts that make up a linear index.
const (
	recordsFile    = "records.json"
	embeddingsFile = "embeddings.bin"
)

// matrixMagic prefixes embeddings.bin so foreign files are rejected.
var matrixMagic = [4]byte{'L', 'R', 'V', '1'}

// LinearStore is a VectorStore that keeps every embedding in memory and
// answers queries by comparing the query against each stored row. Its state
// is persisted to a records file and a row-aligned embedding matrix in a
// single directory, rewritten after every Add.
//
// Writers are serialised and exclude readers for the whole mutate-and-persist
// step, so Query never observes records and rows out of step.
type LinearStore struct {
	// mu guards every field below.
	mu sync.RWMutex
	// dir is the directory holding both artifacts.
	dir string
	// records are the stored documents in insertion order.
	records []Document
	// rows[i] is the embedding of records[i].
	rows [][]float32
	// norms[i] caches the Euclidean norm of rows[i].
	norms []float64
	// ids maps document id to its row index.
	ids map[string]int
	// dim is the embedding length; 0 until the first row is stored.
	dim int
	// log receives load and persistence warnings.
	log *slog.Logger
	// rename moves staged artifacts into place.
	rename func(oldpath, newpath string) error
}

// OpenLinearStore opens the linear index in dir, creating the directory if
// needed. Existing artifacts are loaded; missing, unreadable or misaligned
// artifacts are logged and the store starts empty.
func OpenLinearStore(dir string, log *slog.Logger) (*LinearStore, error) {
	log = logging.OrNop(log)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("linear store: create %s: %w: %w", dir, ErrPersistence, err)
	}

	s := &LinearStore{dir: dir, ids: make(map[string]int), log: log, rename: os.Rename}

	records, rows, dim, err := loadArtifacts(dir)
	switch {
	case errors.Is(err, errNoIndex):
		log.Info("linear store: no existing index, starting empty", slog.String("dir", dir))
	case err != nil:
		log.Warn("linear store: could not load index, starting empty",
			slog.String("dir", dir),
			slog.Any("error", err),
		)
	default:
		s.records = records
		s.rows = rows
		s.dim = dim
		s.norms = make([]float64, len(rows))
		for i, r := range rows {
			s.norms[i] = norm(r)
			s.ids[records[i].ID] = i
		}
		log.Info("linear store: loaded index",
			slog.String("dir", dir),
			slog.Int("documents", len(records)),
			slog.Int("dimensions", dim),
		)
	}

	return s, nil
}

// Add validates the batch, appends it and rewrites both artifacts before
// returning. If persisting fails the in-memory state is rolled back.
func (s *LinearStore) Add(_ context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("linear store: %d documents but %d embeddings: %w", len(docs), len(embeddings), ErrInvalidInput)
	}
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("linear store: document %d has empty id: %w", i, ErrInvalidInput)
		}
		if _, ok := s.ids[doc.ID]; ok {
			return fmt.Errorf("linear store: %q: %w", doc.ID, ErrDuplicateID)
		}
		if _, ok := seen[doc.ID]; ok {
			return fmt.Errorf("linear store: %q repeated in batch: %w", doc.ID, ErrDuplicateID)
		}
		seen[doc.ID] = struct{}{}

		if len(embeddings[i]) == 0 {
			return fmt.Errorf("linear store: %q has empty embedding: %w", doc.ID, ErrInvalidInput)
		}
		if dim == 0 {
			dim = len(embeddings[i])
		}
		if len(embeddings[i]) != dim {
			return fmt.Errorf("linear store: %q has %d dimensions, want %d: %w",
				doc.ID, len(embeddings[i]), dim, ErrDimensionMismatch)
		}
	}

	prevLen, prevDim := len(s.records), s.dim
	for i, doc := range docs {
		row := slices.Clone(embeddings[i])
		s.ids[doc.ID] = len(s.records)
		s.records = append(s.records, doc)
		s.rows = append(s.rows, row)
		s.norms = append(s.norms, norm(row))
	}
	s.dim = dim

	if err := s.persistLocked(); err != nil {
		for _, doc := range docs {
			delete(s.ids, doc.ID)
		}
		s.records = s.records[:prevLen]
		s.rows = s.rows[:prevLen]
		s.norms = s.norms[:prevLen]
		s.dim = prevDim
		// One artifact may already hold the new batch; bring disk back in
		// line with memory.
		if rerr := s.persistLocked(); rerr != nil {
			s.log.Error("linear store: could not restore artifacts after failed write",
				slog.String("dir", s.dir),
				slog.Any("error", rerr),
			)
		}
		return err
	}

	s.log.Debug("linear store: added documents",
		slog.Int("added", len(docs)),
		slog.Int("total", len(s.records)),
	)
	return nil
}

// Count returns the number of stored documents.
func (s *LinearStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Query returns up to k documents ordered by ascending distance
// (1 − cosine similarity). Equal similarities keep insertion order.
func (s *LinearStore) Query(_ context.Context, embedding []float32, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.records) == 0 {
		return []Match{}, nil
	}
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("linear store: query has %d dimensions, want %d: %w", len(embedding), s.dim, ErrDimensionMismatch)
	}

	qn := norm(embedding)
	sims := make([]float64, len(s.rows))
	order := make([]int, len(s.rows))
	for i, row := range s.rows {
		sims[i] = cosineWithNorms(embedding, row, qn, s.norms[i])
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(sims[b], sims[a])
	})

	n := min(k, len(order))
	matches := make([]Match, 0, n)
	for _, i := range order[:n] {
		matches = append(matches, Match{Document: s.records[i], Distance: 1 - sims[i]})
	}
	return matches, nil
}

// Close is a no-op; every Add is already durable.
func (s *LinearStore) Close() error { return nil }

// persistLocked rewrites both artifacts. Both are staged to temp files
// before either is renamed into place, so an encode or write failure leaves
// the previous pair untouched. The matrix is renamed last; a crash between
// the two renames leaves a row count mismatch, which the loader rejects.
func (s *LinearStore) persistLocked() error {
	var matrix bytes.Buffer
	if err := encodeMatrix(&matrix, s.rows, s.dim); err != nil {
		return fmt.Errorf("linear store: encode embeddings: %w: %w", ErrPersistence, err)
	}
	records, err := json.Marshal(s.records)
	if err != nil {
		return fmt.Errorf("linear store: encode records: %w: %w", ErrPersistence, err)
	}

	recTmp, err := stageFile(s.dir, recordsFile, records)
	if err != nil {
		return fmt.Errorf("linear store: write records: %w: %w", ErrPersistence, err)
	}
	defer func() { _ = os.Remove(recTmp) }()

	matTmp, err := stageFile(s.dir, embeddingsFile, matrix.Bytes())
	if err != nil {
		return fmt.Errorf("linear store: write embeddings: %w: %w", ErrPersistence, err)
	}
	defer func() { _ = os.Remove(matTmp) }()

	if err := s.rename(recTmp, filepath.Join(s.dir, recordsFile)); err != nil {
		return fmt.Errorf("linear store: replace records: %w: %w", ErrPersistence, err)
	}
	if err := s.rename(matTmp, filepath.Join(s.dir, embeddingsFile)); err != nil {
		return fmt.Errorf("linear store: replace embeddings: %w: %w", ErrPersistence, err)
	}
	return nil
}

// errNoIndex reports that neither artifact exists yet.
var errNoIndex = errors.New("no index artifacts")

// loadArtifacts reads and cross-checks both files in dir. It returns
// errNoIndex when neither file exists.
func loadArtifacts(dir string) ([]Document, [][]float32, int, error) {
	recData, recErr := os.ReadFile(filepath.Join(dir, recordsFile))
	matData, matErr := os.ReadFile(filepath.Join(dir, embeddingsFile))
	if errors.Is(recErr, fs.ErrNotExist) && errors.Is(matErr, fs.ErrNotExist) {
		return nil, nil, 0, errNoIndex
	}
	if recErr != nil {
		return nil, nil, 0, fmt.Errorf("read records: %w", recErr)
	}
	if matErr != nil {
		return nil, nil, 0, fmt.Errorf("read embeddings: %w", matErr)
	}

	var records []Document
	if err := json.Unmarshal(recData, &records); err != nil {
		return nil, nil, 0, fmt.Errorf("decode records: %w", err)
	}
	rows, dim, err := decodeMatrix(matData)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("decode embeddings: %w", err)
	}
	if len(rows) != len(records) {
		return nil, nil, 0, fmt.Errorf("records (%d) and embeddings (%d) are misaligned", len(records), len(rows))
	}

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			return nil, nil, 0, fmt.Errorf("records contain duplicate id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return records, rows, dim, nil
}

// matrixHeader is the fixed-size prefix of embeddings.bin.
type matrixHeader struct {
	Magic [4]byte
	Rows  uint32
	Dim   uint32
}

// encodeMatrix writes rows as little-endian float32 values after a header.
func encodeMatrix(w io.Writer, rows [][]float32, dim int) error {
	bw := bufio.NewWriter(w)
	hdr := matrixHeader{Magic: matrixMagic, Rows: uint32(len(rows)), Dim: uint32(dim)} //nolint:gosec // bounded by memory
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, row := range rows {
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// decodeMatrix is the inverse of encodeMatrix. The payload length must match
// the header exactly.
func decodeMatrix(data []byte) ([][]float32, int, error) {
	var hdr matrixHeader
	hdrSize := binary.Size(hdr)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return nil, 0, fmt.Errorf("header: %w", err)
	}
	if hdr.Magic != matrixMagic {
		return nil, 0, fmt.Errorf("bad magic %q", hdr.Magic[:])
	}
	if hdr.Rows > 0 && hdr.Dim == 0 {
		return nil, 0, errors.New("zero dimension with non-zero rows")
	}
	want := uint64(hdrSize) + uint64(hdr.Rows)*uint64(hdr.Dim)*4
	if uint64(len(data)) != want {
		return nil, 0, fmt.Errorf("size %d does not match header (%d rows x %d dims)", len(data), hdr.Rows, hdr.Dim)
	}

	payload := data[hdrSize:]
	dim := int(hdr.Dim)
	rows := make([][]float32, hdr.Rows)
	for i := range rows {
		row := make([]float32, dim)
		base := i * dim * 4
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(payload[base+4*j:]))
		}
		rows[i] = row
	}
	return rows, dim, nil
}

// stageFile writes data to a synced temp file next to name in dir and
// returns its path. The caller renames or removes it.
func stageFile(dir, name string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, "."+name+"-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}
