package integration

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"

	"github.com/alexcormier/setwp/internal/archive/archivetest"
	"github.com/alexcormier/setwp/internal/config"
	"github.com/alexcormier/setwp/internal/platform"
)

// mirror is a release download server.
type mirror struct {
	server *httptest.Server
	hits   atomic.Int64
	// failures is the number of requests answered with 503 before serving files.
	failures atomic.Int64

	mu    sync.Mutex
	files map[string][]byte
}

func startMirror(t *testing.T) *mirror {
	t.Helper()

	m := &mirror{files: make(map[string][]byte)}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.hits.Add(1)

		if m.failures.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		m.mu.Lock()
		body, ok := m.files[r.URL.Path]
		m.mu.Unlock()

		if !ok {
			http.NotFound(w, r)

			return
		}

		_, _ = w.Write(body)
	}))
	t.Cleanup(m.server.Close)

	return m
}

func (m *mirror) serve(path string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[path] = body
}

// URL returns an absolute URL for path, which may contain placeholders.
func (m *mirror) URL(path string) string {
	return m.server.URL + path
}

// buildArchive writes a setwp archive whose binary reports printedVersion.
func buildArchive(t *testing.T, printedVersion string) (string, []byte) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "setwp-v"+printedVersion+".tar.gz")
	archivetest.WriteTarGz(t, path, archivetest.SetwpEntries(printedVersion))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return path, data
}

// writeSettings stores a config file that installs under a temporary prefix.
func writeSettings(t *testing.T, mutate func(*config.Config)) (string, *config.Config) {
	t.Helper()

	cfg := &config.Config{
		Prefix:       t.TempDir(),
		CatalogPath:  filepath.Join(t.TempDir(), "catalog.yaml"),
		Timeout:      5 * time.Second,
		Retries:      0,
		RetryBackoff: 10 * time.Millisecond,
		LogLevel:     "debug",
	}

	if mutate != nil {
		mutate(cfg)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.Save(path, cfg))

	return path, cfg
}

// signingKey returns an armored public keyring and a function producing
// armored detached signatures.
func signingKey(t *testing.T) ([]byte, func([]byte) []byte) {
	t.Helper()

	entity, err := openpgp.NewEntity("setwp release", "", "release@example.com", nil)
	require.NoError(t, err)

	var keyring bytes.Buffer

	w, err := armor.Encode(&keyring, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	sign := func(data []byte) []byte {
		var signature bytes.Buffer
		require.NoError(t, openpgp.ArmoredDetachSign(&signature, entity, bytes.NewReader(data), nil))

		return signature.Bytes()
	}

	return keyring.Bytes(), sign
}

var (
	mavericks = &platform.SystemInfo{OS: "darwin", OSVersion: "10.9.5", Arch: "x86_64", WordSize: 64}
	yosemite  = &platform.SystemInfo{OS: "darwin", OSVersion: "10.10.5", Arch: "x86_64", WordSize: 64}
)
