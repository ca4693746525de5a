package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/alexcormier/setwp/internal/archive"
	"github.com/alexcormier/setwp/internal/config"
	"github.com/alexcormier/setwp/internal/domain/release"
	"github.com/alexcormier/setwp/internal/fetch"
	"github.com/alexcormier/setwp/internal/install"
	"github.com/alexcormier/setwp/internal/integrity"
	"github.com/alexcormier/setwp/internal/logger"
	"github.com/alexcormier/setwp/internal/platform"
	"github.com/alexcormier/setwp/internal/repository/catalog"
	"github.com/alexcormier/setwp/internal/repository/receipt"
	"github.com/alexcormier/setwp/internal/selftest"
)

var (
	// ErrSelfTestFailed is returned when the installed executable reports another version.
	ErrSelfTestFailed = errors.New("installed but wrong version")

	errNoExecutable = errors.New("manifest installed no executable")
)

// Options are inputs accepted by the installer entry point.
type Options struct {
	// ConfigPath is read when Config is nil.
	ConfigPath string
	// Config overrides the configuration file.
	Config *config.Config
	// Version to install; empty selects the latest release.
	Version string
	// Arch forces an architecture instead of the detected one.
	Arch string
	// Catalog replaces the catalog named by the configuration.
	Catalog *release.Catalog
	// System replaces host detection.
	System *platform.SystemInfo
	// HTTPClient replaces the default HTTP client.
	HTTPClient *http.Client
	// Progress receives a download progress bar when set.
	Progress io.Writer
	// OnCaveat is called with the advisory of a deprecated release before anything is fetched.
	OnCaveat func(version, caveat string)
}

// Outcome describes what a run did, also when it failed.
type Outcome struct {
	RunID      string
	Version    string
	Arch       release.Arch
	URL        string
	Deprecated bool
	// Caveat is the advisory of the release, shown before anything is fetched.
	Caveat   string
	State    State
	Report   *install.Report
	SelfTest selftest.Result
}

// runner holds the mutable state of a single install.
type runner struct {
	cfg       *config.Config
	catalog   *release.Catalog
	system    *platform.SystemInfo
	arch      release.Arch
	fetcher   *fetch.Fetcher
	installer *install.Installer
	onCaveat  func(version, caveat string)
	receipts  receipt.Repository

	outcome *Outcome
	target  release.DownloadTarget
	format  archive.Format
	// scratch holds the download and the extracted tree; it is always removed.
	scratch       string
	archivePath   string
	signaturePath string
}

// Run installs the requested release. The returned Outcome is never nil when
// the run got as far as loading its inputs; failures during the pipeline are
// *StageError values.
func Run(ctx context.Context, opts *Options) (*Outcome, error) {
	runID := uuid.NewString()

	ctx = logger.WithName(ctx, "setwp-install")
	ctx = logger.WithKV(ctx, "run_id", runID)

	r, err := newRunner(ctx, opts)
	if err != nil {
		return nil, err
	}

	r.outcome.RunID = runID

	defer r.cleanup(ctx)

	err = r.run(ctx)
	if r.outcome.Report != nil && r.receipts != nil {
		r.writeReceipt(ctx)
	}

	if err != nil {
		logger.ErrorKV(ctx, "Install failed", "state", r.outcome.State, "error", err)

		return r.outcome, err
	}

	logger.InfoKV(ctx, "Install completed", "version", r.outcome.Version, "arch", r.outcome.Arch)

	return r.outcome, nil
}

func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	if opts == nil {
		opts = &Options{}
	}

	cfg := opts.Config
	if cfg == nil {
		var err error

		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	r := &runner{
		cfg:       cfg,
		catalog:   opts.Catalog,
		system:    opts.System,
		installer: install.New(),
		onCaveat:  opts.OnCaveat,
		outcome:   &Outcome{Version: opts.Version, State: StatePending},
	}

	if cfg.ReceiptPath != "" {
		r.receipts = receipt.NewFileRepository(cfg.ReceiptPath)
	}

	if opts.Arch != "" {
		arch, err := release.ParseArch(opts.Arch)
		if err != nil {
			return nil, &StageError{Stage: StageResolve, Err: err}
		}

		r.arch = arch
	}

	if r.catalog == nil {
		loaded, err := catalog.Open(ctx, cfg.CatalogPath)
		if err != nil {
			return nil, &StageError{Stage: StageResolve, Err: err}
		}

		r.catalog = loaded
	}

	fetchOptions := []fetch.Option{
		fetch.WithTimeout(cfg.Timeout),
		fetch.WithRetries(cfg.Retries, cfg.RetryBackoff),
		fetch.WithHTTPClient(opts.HTTPClient),
	}

	if opts.Progress != nil {
		fetchOptions = append(fetchOptions, fetch.WithProgress(opts.Progress))
	}

	r.fetcher = fetch.New(fetchOptions...)

	return r, nil
}

func (r *runner) run(ctx context.Context) error {
	stages := []struct {
		stage Stage
		exec  func(context.Context) error
	}{
		{StageResolve, r.resolve},
		{StageFetch, r.fetch},
		{StageVerify, r.verify},
		{StageInstall, r.install},
		{StageSelfTest, r.selfTest},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: s.stage, Err: err}
		}

		stageCtx := logger.WithKV(ctx, "stage", s.stage.String())
		logger.Debug(stageCtx, "Stage started")

		if err := s.exec(stageCtx); err != nil {
			return &StageError{Stage: s.stage, Err: err}
		}

		state, err := advance(r.outcome.State, s.stage.completes())
		if err != nil {
			return err
		}

		r.outcome.State = state
		logger.InfoKV(stageCtx, "Stage completed", "state", state)
	}

	return nil
}

// resolve picks the release and its artifact. It never touches the network.
func (r *runner) resolve(ctx context.Context) error {
	descriptor, err := r.catalog.Lookup(r.outcome.Version)
	if err != nil {
		return err
	}

	r.outcome.Version = descriptor.Version
	r.outcome.Deprecated = descriptor.Deprecated

	if descriptor.Deprecated || descriptor.Caveat != "" {
		r.outcome.Caveat = caveatText(descriptor)
		logger.WarnKV(ctx, "Release caveat", "version", descriptor.Version, "caveat", r.outcome.Caveat)

		if r.onCaveat != nil {
			r.onCaveat(descriptor.Version, r.outcome.Caveat)
		}
	}

	info, err := r.systemInfo(ctx)
	if err != nil {
		return err
	}

	arch, target, err := platform.Resolve(descriptor, info, r.arch)
	if err != nil {
		return err
	}

	target.URL = release.ExpandURL(target.URL, descriptor.Version, arch)
	target.Signature = release.ExpandURL(target.Signature, descriptor.Version, arch)

	format, err := archive.DetectFormat(target.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", release.ErrInvalidRelease, err)
	}

	r.target = target
	r.format = format
	r.outcome.Arch = arch
	r.outcome.URL = target.URL

	logger.InfoKV(ctx, "Release resolved",
		"version", descriptor.Version, "arch", arch, "url", target.URL, "checksum", target.Checksum)

	return nil
}

func caveatText(d *release.Descriptor) string {
	if d.Caveat != "" {
		return d.Caveat
	}

	return "setwp " + d.Version + " is deprecated."
}

func (r *runner) systemInfo(ctx context.Context) (platform.SystemInfo, error) {
	if r.system != nil {
		return *r.system, nil
	}

	info, err := platform.Detect(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Host detection incomplete, using runtime defaults", "error", err)
	}

	return info, nil
}

func (r *runner) fetch(ctx context.Context) error {
	scratch, err := os.MkdirTemp("", "setwp-install-")
	if err != nil {
		return err
	}

	r.scratch = scratch
	r.archivePath = filepath.Join(scratch, "artifact."+string(r.format))

	if err = r.download(ctx, r.target.URL, r.archivePath); err != nil {
		return err
	}

	if r.target.Signature == "" {
		return nil
	}

	if r.cfg.KeyringPath == "" {
		logger.WarnKV(ctx, "Release is signed but no keyring is configured, skipping signature", "signature", r.target.Signature)

		return nil
	}

	r.signaturePath = filepath.Join(scratch, "artifact.asc")

	return r.download(ctx, r.target.Signature, r.signaturePath)
}

func (r *runner) download(ctx context.Context, url, path string) error {
	file, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}

	written, err := r.fetcher.Download(ctx, url, file)
	closeErr := file.Close()

	if err != nil {
		return err
	}

	if closeErr != nil {
		return closeErr
	}

	logger.InfoKV(ctx, "Downloaded", "url", url, "bytes", written)

	return nil
}

func (r *runner) verify(ctx context.Context) error {
	if err := integrity.VerifyFile(r.archivePath, r.target.Checksum, r.target.URL); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Checksum verified", "algorithm", r.target.Checksum.Algorithm)

	if r.signaturePath == "" {
		return nil
	}

	if err := verifySignature(r.archivePath, r.signaturePath, r.cfg.KeyringPath); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Signature verified", "keyring", r.cfg.KeyringPath)

	return nil
}

func verifySignature(archivePath, signaturePath, keyringPath string) error {
	files := make([]*os.File, 0, 3)

	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	for _, path := range []string{archivePath, signaturePath, keyringPath} {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return err
		}

		files = append(files, f)
	}

	return integrity.VerifySignature(files[0], files[1], files[2])
}

func (r *runner) install(ctx context.Context) error {
	staged := filepath.Join(r.scratch, "staged")
	if err := os.Mkdir(staged, 0o700); err != nil {
		return err
	}

	if err := archive.Extract(ctx, r.archivePath, r.format, staged); err != nil {
		return err
	}

	report, err := r.installer.Install(ctx, staged, r.target.Manifest, r.cfg.Roots())
	if err != nil {
		return err
	}

	r.outcome.Report = report

	return nil
}

func (r *runner) selfTest(ctx context.Context) error {
	executable, ok := r.outcome.Report.Executable()
	if !ok {
		return errNoExecutable
	}

	result := selftest.Check(ctx, executable, r.outcome.Version)
	r.outcome.SelfTest = result

	if !result.Passed {
		return fmt.Errorf("%s printed %q, want %q: %w", executable, result.Output, result.Expected, ErrSelfTestFailed)
	}

	return nil
}

// writeReceipt records the placed files. A receipt that cannot be written
// does not fail an install that already happened.
func (r *runner) writeReceipt(ctx context.Context) {
	rec := receipt.New(r.outcome.RunID, r.outcome.Version, r.outcome.Arch, r.target, r.outcome.Report)
	rec.SelfTestPassed = r.outcome.SelfTest.Passed

	actor, err := receipt.DetectActor()
	if err != nil {
		logger.DebugKV(ctx, "Install actor unknown", "error", err)
	} else {
		rec.Actor = actor
	}

	if err = r.receipts.Save(ctx, rec); err != nil {
		logger.WarnKV(ctx, "Failed to write install receipt", "path", r.cfg.ReceiptPath, "error", err)
	}
}

// cleanup removes the scratch directory.
func (r *runner) cleanup(ctx context.Context) {
	if r.scratch == "" {
		return
	}

	if err := os.RemoveAll(r.scratch); err != nil {
		logger.WarnKV(ctx, "Failed to remove scratch directory", "path", r.scratch, "error", err)
	}
}
