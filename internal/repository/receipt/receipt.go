package receipt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/install"
	"github.com/alexcormier/setwp/internal/logger"
)

// FilePermissions is the mode of the receipt file.
const FilePermissions = 0o644

// ErrNotFound is returned when nothing has been installed yet.
var ErrNotFound = errors.New("receipt not found")

// Actor identifies who ran an install.
type Actor struct {
	Hostname string `yaml:"hostname"`
	Username string `yaml:"username"`
}

// File is one placed file.
type File struct {
	Role release.Role `yaml:"role"`
	Path string       `yaml:"path"`
	Mode string       `yaml:"mode"`
}

// Receipt describes a completed install.
type Receipt struct {
	RunID       string    `yaml:"run_id"`
	Version     string    `yaml:"version"`
	Arch        string    `yaml:"arch"`
	URL         string    `yaml:"url"`
	Checksum    string    `yaml:"checksum"`
	InstalledAt time.Time `yaml:"installed_at"`
	// SelfTestPassed is false when the installed executable reported another version.
	SelfTestPassed bool   `yaml:"self_test_passed"`
	Actor          *Actor `yaml:"actor,omitempty"`
	Files          []File `yaml:"files"`
}

// New builds a receipt from an install report.
func New(runID, version string, arch release.Arch, target release.DownloadTarget, report *install.Report) *Receipt {
	r := &Receipt{
		RunID:       runID,
		Version:     version,
		Arch:        string(arch),
		URL:         target.URL,
		Checksum:    target.Checksum.String(),
		InstalledAt: time.Now().UTC().Truncate(time.Second),
	}

	if report != nil {
		for _, f := range report.Files {
			r.Files = append(r.Files, File{
				Role: f.Role,
				Path: f.Destination,
				Mode: fmt.Sprintf("%04o", f.Mode.Perm()),
			})
		}
	}

	return r
}

// DetectActor gathers host and user information for the receipt.
func DetectActor() (*Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &Actor{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}

// Repository defines persistence operations for receipts.
type Repository interface {
	Load(ctx context.Context) (*Receipt, error)
	Save(ctx context.Context, r *Receipt) error
}

// FileRepository keeps the receipt in a YAML file.
type FileRepository struct {
	path string
	mu   sync.Mutex
}

// NewFileRepository creates a repository that reads and writes YAML at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the receipt location.
func (f *FileRepository) Path() string {
	return f.path
}

// Load reads the receipt from disk.
func (f *FileRepository) Load(_ context.Context) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read receipt: %w", err)
	}

	var r Receipt
	if err = yaml.Unmarshal(contents, &r); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", f.path, err)
	}

	return &r, nil
}

// Save replaces the receipt on disk.
func (f *FileRepository) Save(ctx context.Context, r *Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create receipt directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err = os.WriteFile(tmp, data, FilePermissions); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}

	if err = os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("write receipt: %w", err)
	}

	logger.DebugKV(ctx, "Receipt saved", "path", f.path, "version", r.Version)

	return nil
}
