// Package jar reads a zip archive into memory and writes it back. Entries
// that were not changed are copied raw, so their compressed bytes, headers and
// order survive a round trip untouched.
package jar

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tliron/commonlog"
)

type Entry struct {
	file     *zip.File
	header   zip.FileHeader
	data     []byte
	modified bool
}

func (e *Entry) Name() string { return e.header.Name }

func (e *Entry) Method() uint16 { return e.header.Method }

func (e *Entry) Modified() bool { return e.modified }

func (e *Entry) Size() int { return len(e.data) }

func (e *Entry) IsDir() bool { return e.header.FileInfo().IsDir() }

// Archive keeps every entry in archive order. Duplicate names are kept as
// they are; lookups by name resolve to the last one, as a jar class loader
// would.
type Archive struct {
	entries []*Entry
	index   map[string]int
	comment string
	closer  io.Closer
}

// Read loads all entries of the archive at path. Contents are decompressed
// up front so a corrupt entry fails here rather than halfway through a write.
// The file stays open until Close so unchanged entries can be copied raw.
func Read(path string) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	a, err := load(&rc.Reader)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to read archive %s: %w", path, err)
	}
	a.closer = rc
	commonlog.GetLogger("classpatch.jar").Debugf("read %d entries from %s", len(a.entries), path)
	return a, nil
}

// ReadFrom loads an archive from r. r must stay valid until the archive is
// encoded.
func ReadFrom(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return load(zr)
}

func load(zr *zip.Reader) (*Archive, error) {
	a := &Archive{
		index:   make(map[string]int, len(zr.File)),
		comment: zr.Comment,
	}
	for _, f := range zr.File {
		data, err := readFile(f)
		if err != nil {
			return nil, err
		}
		a.index[f.Name] = len(a.entries)
		a.entries = append(a.entries, &Entry{
			file:   f,
			header: f.FileHeader,
			data:   data,
		})
	}
	return a, nil
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", f.Name, err)
	}
	return data, nil
}

func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

func (a *Archive) Entries() []*Entry {
	return a.entries
}

func (a *Archive) Names() []string {
	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.Name()
	}
	return names
}

func (a *Archive) Comment() string {
	return a.comment
}

// Get returns the content of the named entry. The slice is shared with the
// archive and must not be modified; use Put to change an entry.
func (a *Archive) Get(name string) ([]byte, bool) {
	i, ok := a.index[name]
	if !ok {
		return nil, false
	}
	return a.entries[i].data, true
}

// Put replaces the content of the named entry, keeping its position and
// header. A new name is appended as a deflated entry.
func (a *Archive) Put(name string, data []byte) {
	if i, ok := a.index[name]; ok {
		e := a.entries[i]
		e.data = data
		e.modified = true
		return
	}
	a.index[name] = len(a.entries)
	a.entries = append(a.entries, &Entry{
		header: zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: time.Now(),
		},
		data:     data,
		modified: true,
	})
}

// Encode writes the archive to w.
func (a *Archive) Encode(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, e := range a.entries {
		if err := a.encodeEntry(zw, e); err != nil {
			return err
		}
	}
	if a.comment != "" {
		if err := zw.SetComment(a.comment); err != nil {
			return fmt.Errorf("failed to set archive comment: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

func (a *Archive) encodeEntry(zw *zip.Writer, e *Entry) error {
	if !e.modified && e.file != nil {
		if err := zw.Copy(e.file); err != nil {
			return fmt.Errorf("failed to copy entry %s: %w", e.Name(), err)
		}
		return nil
	}

	header := &zip.FileHeader{
		Name:           e.header.Name,
		Comment:        e.header.Comment,
		NonUTF8:        e.header.NonUTF8,
		CreatorVersion: e.header.CreatorVersion,
		Method:         e.header.Method,
		Modified:       e.header.Modified,
		ExternalAttrs:  e.header.ExternalAttrs,
	}
	if e.IsDir() {
		header.Method = zip.Store
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create entry %s: %w", e.Name(), err)
	}
	if e.IsDir() {
		return nil
	}
	if _, err := w.Write(e.data); err != nil {
		return fmt.Errorf("failed to write entry %s: %w", e.Name(), err)
	}
	return nil
}

// Bytes encodes the archive in memory.
func (a *Archive) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := a.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write encodes the archive to path through a temporary file in the same
// directory, renamed into place once complete. On failure path is not
// created or changed.
func (a *Archive) Write(path string) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = a.Encode(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	commonlog.GetLogger("classpatch.jar").Debugf("wrote %d entries to %s", len(a.entries), path)
	return nil
}
