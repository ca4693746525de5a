package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/logger"
)

// Format is the encoding of a catalog file.
type Format string

// Supported catalog encodings.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

const (
	filePermissions = 0o644
	dirPermissions  = 0o755
	yamlIndent      = 2
)

//go:embed default.yaml
var defaultCatalog []byte

// ErrNotFound is returned when the catalog file does not exist yet.
var ErrNotFound = errors.New("catalog not found")

// Repository defines the catalog operations used by the services.
type Repository interface {
	Load(ctx context.Context) (*release.Catalog, error)
	Append(ctx context.Context, record Record) (*release.Catalog, error)
}

// FormatOf picks the encoding from the file extension. Unknown extensions are read as YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}

	return FormatYAML
}

// Parse validates and decodes a catalog document.
func Parse(data []byte, format Format) (*Document, error) {
	if err := Validate(data, format); err != nil {
		return nil, err
	}

	var (
		doc Document
		err error
	)

	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}

	if err != nil {
		return nil, fmt.Errorf("decode catalog: %w: %w", release.ErrInvalidRelease, err)
	}

	return &doc, nil
}

// Encode renders a document in the given format.
func Encode(doc *Document, format Format) ([]byte, error) {
	if format == FormatTOML {
		return toml.Marshal(doc)
	}

	var buf bytes.Buffer

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(yamlIndent)

	if err := encoder.Encode(doc); err != nil {
		return nil, err
	}

	if err := encoder.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DefaultDocument returns the catalog shipped with the installer.
func DefaultDocument() (*Document, error) {
	return Parse(defaultCatalog, FormatYAML)
}

// Default returns the catalog of published setwp releases shipped with the installer.
func Default() (*release.Catalog, error) {
	doc, err := DefaultDocument()
	if err != nil {
		return nil, err
	}

	return doc.Catalog()
}

// Open loads the catalog file at path, or the shipped catalog when path is empty.
func Open(ctx context.Context, path string) (*release.Catalog, error) {
	if path == "" {
		return Default()
	}

	return NewFileRepository(path).Load(ctx)
}

// FileRepository keeps a catalog document in a YAML or TOML file.
type FileRepository struct {
	// path is the filesystem location of the catalog file.
	path string
	// format is derived from the extension of path.
	format Format
	// mu serialises reads and writes of the file.
	mu sync.Mutex
}

// NewFileRepository creates a repository reading and writing the catalog at path.
func NewFileRepository(path string) *FileRepository {
	path = filepath.Clean(path)

	return &FileRepository{
		path:   path,
		format: FormatOf(path),
	}
}

// Path returns the catalog file location.
func (r *FileRepository) Path() string {
	return r.path
}

// LoadDocument reads and validates the catalog file.
func (r *FileRepository) LoadDocument(_ context.Context) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loadDocument()
}

func (r *FileRepository) loadDocument() (*Document, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", r.path, ErrNotFound)
		}

		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	doc, err := Parse(contents, r.format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.path, err)
	}

	return doc, nil
}

// Load reads the catalog file and builds the release catalog.
func (r *FileRepository) Load(ctx context.Context) (*release.Catalog, error) {
	doc, err := r.LoadDocument(ctx)
	if err != nil {
		return nil, err
	}

	catalog, err := doc.Catalog()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.path, err)
	}

	logger.DebugKV(ctx, "Catalog loaded", "path", r.path, "releases", catalog.Len())

	return catalog, nil
}

// Save writes doc to the catalog file after validating it.
func (r *FileRepository) Save(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.save(doc)
}

func (r *FileRepository) save(doc *Document) error {
	if _, err := doc.Catalog(); err != nil {
		return err
	}

	data, err := Encode(doc, r.format)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	if err = Validate(data, r.format); err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(r.path), dirPermissions); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}

	if err = writeAtomic(r.path, data); err != nil {
		return fmt.Errorf("write catalog file: %w", err)
	}

	return nil
}

// writeAtomic replaces path with data through a temporary file in the same
// directory, so readers see either the old or the new catalog.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()

	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()

		return err
	}

	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()

		return err
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	if err = os.Chmod(tmpPath, filePermissions); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// Append adds record to the end of the catalog file, creating the file when
// it does not exist. A record with a known version corrects the earlier one.
func (r *FileRepository) Append(ctx context.Context, record Record) (*release.Catalog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.loadDocument()

	switch {
	case errors.Is(err, ErrNotFound):
		doc = &Document{}
	case err != nil:
		return nil, err
	}

	doc.Releases = append(doc.Releases, record)

	catalog, err := doc.Catalog()
	if err != nil {
		return nil, err
	}

	if err = r.save(doc); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Catalog record appended", "path", r.path, "version", record.Version)

	return catalog, nil
}
