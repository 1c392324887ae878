package flat

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"medrag/internal/domain"
	"medrag/internal/vectorstore"
)

const (
	VectorsFile  = "index.bin"
	MetadataFile = "metadata.db"

	// index.bin layout:
	//   0..7   magic "MEDRAGF1"
	//   8..15  dimension (uint64 LE)
	//   16..23 count (uint64 LE)
	//   24..   count*dimension float32 LE, row-major
	headerSize = 24
	floatSize  = 4
)

var (
	fileMagic      = [8]byte{'M', 'E', 'D', 'R', 'A', 'G', 'F', '1'}
	metadataBucket = []byte("metadata")
)

func (s *Index) path(name string) string { return filepath.Join(s.dir, name) }

// saveLocked replaces both artifacts via temp file and rename. Caller holds mu.
func (s *Index) saveLocked() error {
	vecPath, metaPath := s.path(VectorsFile), s.path(MetadataFile)
	vecTmp, metaTmp := vecPath+".tmp", metaPath+".tmp"
	cleanup := func() {
		_ = os.Remove(vecTmp)
		_ = os.Remove(metaTmp)
	}

	if err := writeVectors(vecTmp, s.dimension, s.vectors); err != nil {
		cleanup()
		return fmt.Errorf("%w: write vectors: %w", vectorstore.ErrPersist, err)
	}
	if err := writeMetadata(metaTmp, s.metadata); err != nil {
		cleanup()
		return fmt.Errorf("%w: write metadata: %w", vectorstore.ErrPersist, err)
	}
	// A crash or failure between the two renames leaves a new index.bin next to
	// the old metadata.db; the next load sees mismatched counts and starts empty.
	if err := os.Rename(vecTmp, vecPath); err != nil {
		cleanup()
		return fmt.Errorf("%w: replace vectors: %w", vectorstore.ErrPersist, err)
	}
	if err := os.Rename(metaTmp, metaPath); err != nil {
		cleanup()
		return fmt.Errorf("%w: replace metadata: %w", vectorstore.ErrPersist, err)
	}
	s.dirty = false
	return nil
}

func (s *Index) load() {
	vecPath, metaPath := s.path(VectorsFile), s.path(MetadataFile)
	if !fileExists(vecPath) || !fileExists(metaPath) {
		s.logger.Info("no persisted index found, starting empty", "dir", s.dir)
		return
	}
	vectors, metadata, err := s.readArtifacts(vecPath, metaPath)
	if err != nil {
		s.logger.Warn("persisted index unusable, starting empty", "dir", s.dir, "error", err)
		return
	}
	s.vectors, s.metadata = vectors, metadata
	s.logger.Info("loaded persisted index", "vectors", len(vectors), "dimension", s.dimension)
}

func (s *Index) readArtifacts(vecPath, metaPath string) (vectors [][]float32, metadata []domain.Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			vectors, metadata = nil, nil
			err = fmt.Errorf("decode: %v", r)
		}
	}()
	dim, vectors, err := readVectors(vecPath)
	if err != nil {
		return nil, nil, err
	}
	if dim != s.dimension {
		return nil, nil, fmt.Errorf("%w: file has %d, want %d", vectorstore.ErrDimensionMismatch, dim, s.dimension)
	}
	metadata, err = readMetadata(metaPath)
	if err != nil {
		return nil, nil, err
	}
	if len(vectors) != len(metadata) {
		return nil, nil, fmt.Errorf("%w: %d vectors, %d entries", vectorstore.ErrLengthMismatch, len(vectors), len(metadata))
	}
	return vectors, metadata, nil
}

func writeVectors(path string, dim int, vectors [][]float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	var header [headerSize]byte
	copy(header[:8], fileMagic[:])
	binary.LittleEndian.PutUint64(header[8:16], uint64(dim))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(vectors)))
	if _, err := w.Write(header[:]); err != nil {
		_ = f.Close()
		return err
	}
	var buf [floatSize]byte
	for _, v := range vectors {
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
			if _, err := w.Write(buf[:]); err != nil {
				_ = f.Close()
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readVectors(path string) (int, [][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	if len(data) < headerSize {
		return 0, nil, fmt.Errorf("vectors file too small for header: %d < %d", len(data), headerSize)
	}
	var mg [8]byte
	copy(mg[:], data[:8])
	if mg != fileMagic {
		return 0, nil, errors.New("invalid vectors file header (magic mismatch)")
	}
	dim := binary.LittleEndian.Uint64(data[8:16])
	count := binary.LittleEndian.Uint64(data[16:24])
	if dim == 0 {
		return 0, nil, errors.New("invalid vectors file header (dim=0)")
	}
	body := uint64(len(data) - headerSize)
	if count > body/(dim*floatSize) || count*dim*floatSize != body {
		return 0, nil, fmt.Errorf("vectors file size does not match header: dim=%d count=%d bytes=%d", dim, count, body)
	}

	vectors := make([][]float32, count)
	off := headerSize
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += floatSize
		}
		vectors[i] = v
	}
	return int(dim), vectors, nil
}

func writeMetadata(path string, entries []domain.Metadata) error {
	_ = os.Remove(path)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucket(metadataBucket)
		if err != nil {
			return err
		}
		// keys are appended in order
		b.FillPercent = 1.0
		for i, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode entry %d: %w", i, err)
			}
			if err := b.Put(positionKey(i), data); err != nil {
				return err
			}
		}
		return nil
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return err
}

func readMetadata(path string) ([]domain.Metadata, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var out []domain.Metadata
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metadataBucket)
		if b == nil {
			return errors.New("metadata bucket missing")
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 8 || binary.BigEndian.Uint64(k) != uint64(len(out)) {
				return fmt.Errorf("metadata key out of sequence at position %d", len(out))
			}
			var m domain.Metadata
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode entry %d: %w", len(out), err)
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func positionKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
