package cgrag

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/cascadeai/modelmesh/internal/errors"
)

const (
	indexFileName = "docs.index"
	metaFileName  = "docs.metadata"
	infoFileName  = "docs.info"
)

// loadIndex reads the on-disk vector store from dir, verifying the integrity
// invariants from spec.md §6: count*dim*4 == size(docs.index) and
// len(metadata) == count.
func loadIndex(dir string) ([][]float32, []ContextChunk, Info, error) {
	infoPath := filepath.Join(dir, infoFileName)
	infoBytes, err := os.ReadFile(infoPath)
	if os.IsNotExist(err) {
		return nil, nil, Info{}, errors.IndexMissing(dir)
	}
	if err != nil {
		return nil, nil, Info{}, fmt.Errorf("read %s: %w", infoPath, err)
	}

	var info Info
	if err := json.Unmarshal(infoBytes, &info); err != nil {
		return nil, nil, Info{}, errors.IndexCorrupt("malformed docs.info: " + err.Error())
	}

	metaBytes, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if os.IsNotExist(err) {
		return nil, nil, Info{}, errors.IndexMissing(dir)
	}
	if err != nil {
		return nil, nil, Info{}, fmt.Errorf("read docs.metadata: %w", err)
	}
	var metas []ContextChunk
	if err := json.Unmarshal(metaBytes, &metas); err != nil {
		return nil, nil, Info{}, errors.IndexCorrupt("malformed docs.metadata: " + err.Error())
	}
	if len(metas) != info.Count {
		return nil, nil, Info{}, errors.IndexCorrupt(fmt.Sprintf("metadata count %d != info count %d", len(metas), info.Count))
	}

	vecBytes, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if os.IsNotExist(err) {
		return nil, nil, Info{}, errors.IndexMissing(dir)
	}
	if err != nil {
		return nil, nil, Info{}, fmt.Errorf("read docs.index: %w", err)
	}
	wantSize := info.Count * info.Dim * 4
	if len(vecBytes) != wantSize {
		return nil, nil, Info{}, errors.IndexCorrupt(fmt.Sprintf("index byte size %d != count*dim*4 %d", len(vecBytes), wantSize))
	}

	vectors := make([][]float32, info.Count)
	for i := 0; i < info.Count; i++ {
		vec := make([]float32, info.Dim)
		for j := 0; j < info.Dim; j++ {
			off := (i*info.Dim + j) * 4
			bits := binary.LittleEndian.Uint32(vecBytes[off : off+4])
			vec[j] = math.Float32frombits(bits)
		}
		vectors[i] = vec
	}
	return vectors, metas, info, nil
}

// saveIndex persists the vector store atomically: each of the three files is
// written to a temp path in dir and renamed into place, matching the
// registry's write-temp-then-rename pattern.
func saveIndex(dir string, vectors [][]float32, metas []ContextChunk, info Info) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	buf := make([]byte, 0, len(vectors)*info.Dim*4)
	for _, vec := range vectors {
		for _, f := range vec {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
			buf = append(buf, b[:]...)
		}
	}
	if err := atomicWrite(filepath.Join(dir, indexFileName), buf); err != nil {
		return fmt.Errorf("write docs.index: %w", err)
	}

	metaBytes, err := json.Marshal(metas)
	if err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(dir, metaFileName), metaBytes); err != nil {
		return fmt.Errorf("write docs.metadata: %w", err)
	}

	infoBytes, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(dir, infoFileName), infoBytes); err != nil {
		return fmt.Errorf("write docs.info: %w", err)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
