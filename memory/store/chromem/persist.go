package chromem

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-buddy/memory"
)

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// snapshotFiles is the on-disk layout: the chromem export of the index and
// the JSON record list, side by side.
type snapshotFiles struct {
	dir      string
	index    string
	meta     string
	compress bool
}

func (f snapshotFiles) exist() (index, meta bool, err error) {
	if index, err = fileExists(f.index); err != nil {
		return false, false, err
	}
	if meta, err = fileExists(f.meta); err != nil {
		return false, false, err
	}
	return index, meta, nil
}

// save rewrites both files. Each is staged in a temp sibling and renamed
// into place, metadata last, so a reader only ever sees complete files.
func (f snapshotFiles) save(db *chromem.DB, collection string, records []memory.Record) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	indexTmp, err := stageFile(f.index, func(w io.Writer) error {
		return f.writeIndex(w, db, collection)
	})
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	metaTmp, err := stageFile(f.meta, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []memory.Record{}
		}
		return enc.Encode(records)
	})
	if err != nil {
		os.Remove(indexTmp)
		return fmt.Errorf("write metadata: %w", err)
	}

	if err := os.Rename(indexTmp, f.index); err != nil {
		os.Remove(indexTmp)
		os.Remove(metaTmp)
		return fmt.Errorf("commit index: %w", err)
	}
	if err := os.Rename(metaTmp, f.meta); err != nil {
		os.Remove(metaTmp)
		return fmt.Errorf("commit metadata: %w", err)
	}

	// Best-effort: fsync the directory so the renames are durable on POSIX.
	if d, err := os.Open(f.dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (f snapshotFiles) writeIndex(w io.Writer, db *chromem.DB, collection string) error {
	if !f.compress {
		return db.ExportToWriter(w, false, "", collection)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := db.ExportToWriter(zw, false, "", collection); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// loadIndex imports the index file into db, decompressing it first if it
// was written with Compress.
func (f snapshotFiles) loadIndex(db *chromem.DB, collection string) error {
	data, err := os.ReadFile(f.index)
	if err != nil {
		return fmt.Errorf("%w: read index: %v", memory.ErrCorruptStore, err)
	}

	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return fmt.Errorf("create zstd decoder: %w", err)
		}
		data, err = dec.DecodeAll(data, nil)
		dec.Close()
		if err != nil {
			return fmt.Errorf("%w: decompress index: %v", memory.ErrCorruptStore, err)
		}
	}

	if err := db.ImportFromReader(bytes.NewReader(data), "", collection); err != nil {
		return fmt.Errorf("%w: import index: %v", memory.ErrCorruptStore, err)
	}
	return nil
}

func (f snapshotFiles) loadRecords() ([]memory.Record, error) {
	data, err := os.ReadFile(f.meta)
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", memory.ErrCorruptStore, err)
	}

	var records []memory.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: parse metadata: %v", memory.ErrCorruptStore, err)
	}
	return records, nil
}

// stageFile writes a temp file next to filename and returns its name.
// The caller renames it into place or removes it.
func stageFile(filename string, writeFunc func(io.Writer) error) (string, error) {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	// Same directory so the later rename is atomic.
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	_ = tmp.Chmod(0o644)

	buf := bufio.NewWriter(tmp)
	err = writeFunc(buf)
	if err == nil {
		err = buf.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%w: %s is a directory", memory.ErrCorruptStore, path)
	}
	return true, nil
}
