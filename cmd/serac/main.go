// serac is an incremental, encrypted, content-addressed archiver for cold
// object stores: it scans a source tree, uploads encrypted deduplicated
// blobs for new or changed content, and lets an operator reconstruct or
// restore any past point in time.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/radiac/serac/config"
	"github.com/radiac/serac/internal/archiver"
	"github.com/radiac/serac/internal/crypto"
	"github.com/radiac/serac/internal/errs"
	"github.com/radiac/serac/internal/index"
	"github.com/radiac/serac/internal/indexlock"
	"github.com/radiac/serac/internal/pathtree"
	"github.com/radiac/serac/internal/reconstruct"
	"github.com/radiac/serac/internal/restore"
	"github.com/radiac/serac/internal/scanner"
	"github.com/radiac/serac/internal/store"
)

const (
	metaCryptoVersion = "crypto_version"
	metaKDFSalt       = "kdf_salt"
	metaKDFTime       = "kdf_time"
	metaKDFMemory     = "kdf_memory"
	metaKDFThreads    = "kdf_threads"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	app := kingpin.New("serac", "Incremental, encrypted, content-addressed archiver for cold object stores.")
	app.HelpFlag.Short('h')

	configPath := app.Arg("config", "Path to the INI config file.").Required().String()
	debug := app.Flag("debug", "Enable debug logging.").Bool()
	cpuProfile := app.Flag("cpuprofile", "Write a CPU profile to this directory.").String()

	testCmd := app.Command("test", "Validate the config and verify store/index connectivity.")
	initCmd := app.Command("init", "Create a new index. Fails if one already exists.")
	archiveCmd := app.Command("archive", "Scan the source tree and record any changes.")

	lsCmd := app.Command("ls", "List files visible at a point in time.")
	lsAt := lsCmd.Flag("at", "Instant to reconstruct (epoch seconds, YYYY-MM-DD, ...). Default: now.").String()
	lsPattern := lsCmd.Flag("pattern", "Restrict to a path or directory prefix.").String()

	restoreCmd := app.Command("restore", "Restore files visible at a point in time.")
	restoreDest := restoreCmd.Arg("destination", "Directory to restore into.").Required().String()
	restoreAt := restoreCmd.Flag("at", "Instant to reconstruct. Default: now.").String()
	restorePattern := restoreCmd.Flag("pattern", "Restrict to a path or directory prefix.").String()

	cmd, err := app.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}

	if *cpuProfile != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*cpuProfile)).Stop()
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Errorf("config: %v", err)
		return exitCode(err)
	}

	ctx := context.Background()

	switch cmd {
	case testCmd.FullCommand():
		return cmdTest(ctx, logger, cfg)
	case initCmd.FullCommand():
		return cmdInit(logger, cfg)
	case archiveCmd.FullCommand():
		return cmdArchive(ctx, logger, cfg)
	case lsCmd.FullCommand():
		return cmdLs(ctx, logger, cfg, *lsAt, *lsPattern)
	case restoreCmd.FullCommand():
		return cmdRestore(ctx, logger, cfg, *restoreDest, *restoreAt, *restorePattern)
	}
	return 1
}

// exitCode maps a typed error to the process exit code.
func exitCode(err error) int {
	if e, ok := err.(*errs.Error); ok {
		return e.Kind.ExitCode()
	}
	return 2
}

func openStore(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Archive.Storage {
	case config.StorageS3:
		return store.NewS3(ctx, cfg.Archive.Bucket, cfg.Archive.Path, cfg.Archive.Key, cfg.Archive.Secret)
	default:
		return store.NewLocal(cfg.Archive.Path)
	}
}

// provisionEnvelope is used by `init`: it generates a fresh salt and pins
// the default KDF parameters for the lifetime of this repository.
func provisionEnvelope(idx *index.Store, passphrase string) (*crypto.Envelope, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	params := crypto.DefaultKDFParams
	if err := idx.SetMeta(metaCryptoVersion, fmt.Sprintf("%d", crypto.Version)); err != nil {
		return nil, err
	}
	if err := idx.SetMeta(metaKDFSalt, fmt.Sprintf("%x", salt)); err != nil {
		return nil, err
	}
	if err := idx.SetMeta(metaKDFTime, fmt.Sprintf("%d", params.Time)); err != nil {
		return nil, err
	}
	if err := idx.SetMeta(metaKDFMemory, fmt.Sprintf("%d", params.Memory)); err != nil {
		return nil, err
	}
	if err := idx.SetMeta(metaKDFThreads, fmt.Sprintf("%d", params.Threads)); err != nil {
		return nil, err
	}
	return crypto.New(passphrase, salt, params)
}

// loadEnvelope reconstructs the Envelope for an existing repository from the
// salt and KDF parameters pinned at `init` time.
func loadEnvelope(idx *index.Store, passphrase string) (*crypto.Envelope, error) {
	saltHex, ok, err := idx.GetMeta(metaKDFSalt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.Index, "main.loadEnvelope", fmt.Errorf("index has no crypto salt recorded; was it created with `init`?"))
	}
	salt, err := decodeHex(saltHex)
	if err != nil {
		return nil, errs.New(errs.Index, "main.loadEnvelope", err)
	}

	params := crypto.DefaultKDFParams
	if v, ok, err := idx.GetMeta(metaKDFTime); err == nil && ok {
		fmt.Sscanf(v, "%d", &params.Time) //nolint:errcheck
	}
	if v, ok, err := idx.GetMeta(metaKDFMemory); err == nil && ok {
		fmt.Sscanf(v, "%d", &params.Memory) //nolint:errcheck
	}
	if v, ok, err := idx.GetMeta(metaKDFThreads); err == nil && ok {
		fmt.Sscanf(v, "%d", &params.Threads) //nolint:errcheck
	}

	return crypto.New(passphrase, salt, params)
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b int
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = byte(b)
	}
	return out, nil
}

func cmdInit(logger *logrus.Logger, cfg *config.Config) int {
	lock, err := indexlock.AcquireExclusive(cfg.Index.Path)
	if err != nil {
		logger.Errorf("init: %v", err)
		return exitCode(err)
	}
	defer lock.Release() //nolint:errcheck

	idx, err := index.Init(cfg.Index.Path)
	if err != nil {
		logger.Errorf("init: %v", err)
		return exitCode(err)
	}
	defer idx.Close()

	if _, err := provisionEnvelope(idx, cfg.Archive.Password); err != nil {
		logger.Errorf("init: %v", err)
		return exitCode(err)
	}

	logger.Infof("initialized index at %s", cfg.Index.Path)
	return 0
}

func cmdTest(ctx context.Context, logger *logrus.Logger, cfg *config.Config) int {
	lock, err := indexlock.AcquireShared(cfg.Index.Path)
	if err != nil {
		logger.Errorf("test: %v", err)
		return exitCode(err)
	}
	defer lock.Release() //nolint:errcheck

	idx, err := index.Open(cfg.Index.Path)
	if err != nil {
		logger.Errorf("test: index: %v", err)
		return exitCode(err)
	}
	defer idx.Close()

	if _, _, err := idx.GetMeta(metaKDFSalt); err != nil {
		logger.Errorf("test: index: %v", err)
		return exitCode(err)
	}

	backend, err := openStore(ctx, cfg)
	if err != nil {
		logger.Errorf("test: store: %v", err)
		return exitCode(err)
	}
	if _, err := backend.Exists(ctx, strings.Repeat("0", 64)); err != nil {
		logger.Errorf("test: store: %v", err)
		return exitCode(err)
	}

	logger.Infof("OK")
	return 0
}

func cmdArchive(ctx context.Context, logger *logrus.Logger, cfg *config.Config) int {
	lock, err := indexlock.AcquireExclusive(cfg.Index.Path)
	if err != nil {
		logger.Errorf("archive: %v", err)
		return exitCode(err)
	}
	defer lock.Release() //nolint:errcheck

	idx, err := index.Open(cfg.Index.Path)
	if err != nil {
		logger.Errorf("archive: %v", err)
		return exitCode(err)
	}
	defer idx.Close()

	env, err := loadEnvelope(idx, cfg.Archive.Password)
	if err != nil {
		logger.Errorf("archive: %v", err)
		return exitCode(err)
	}

	backend, err := openStore(ctx, cfg)
	if err != nil {
		logger.Errorf("archive: %v", err)
		return exitCode(err)
	}

	s := scanner.New(cfg.Source.Include, cfg.Source.Exclude, logger)
	a := archiver.New(s, idx, backend, env, logger)

	start := time.Now()
	run, err := a.Run(ctx)
	if err != nil {
		logger.Errorf("archive: %v", err)
		return exitCode(err)
	}

	logger.Infof("archive run %d complete in %s: %d added, %d removed, %s uploaded",
		run.ID, time.Since(start).Round(time.Millisecond), run.FilesAdded, run.FilesRemoved, humanize(run.BytesUploaded))
	return 0
}

func resolveInstant(at string) (int64, error) {
	if at == "" {
		return time.Now().Unix(), nil
	}
	return reconstruct.ParseDate(at)
}

func cmdLs(ctx context.Context, logger *logrus.Logger, cfg *config.Config, at, pattern string) int {
	lock, err := indexlock.AcquireShared(cfg.Index.Path)
	if err != nil {
		logger.Errorf("ls: %v", err)
		return exitCode(err)
	}
	defer lock.Release() //nolint:errcheck

	idx, err := index.Open(cfg.Index.Path)
	if err != nil {
		logger.Errorf("ls: %v", err)
		return exitCode(err)
	}
	defer idx.Close()

	t, err := resolveInstant(at)
	if err != nil {
		logger.Errorf("ls: %v", err)
		return exitCode(err)
	}

	versions, err := reconstruct.At(idx, t, pattern)
	if err != nil {
		logger.Errorf("ls: %v", err)
		return exitCode(err)
	}

	tree := pathtree.New()
	for _, fv := range versions {
		tree.Insert(fv.Path, fv.Hash)
	}
	for _, path := range tree.Files() {
		fmt.Println(path)
	}
	return 0
}

func cmdRestore(ctx context.Context, logger *logrus.Logger, cfg *config.Config, destination, at, pattern string) int {
	lock, err := indexlock.AcquireExclusive(cfg.Index.Path)
	if err != nil {
		logger.Errorf("restore: %v", err)
		return exitCode(err)
	}
	defer lock.Release() //nolint:errcheck

	idx, err := index.Open(cfg.Index.Path)
	if err != nil {
		logger.Errorf("restore: %v", err)
		return exitCode(err)
	}
	defer idx.Close()

	env, err := loadEnvelope(idx, cfg.Archive.Password)
	if err != nil {
		logger.Errorf("restore: %v", err)
		return exitCode(err)
	}

	backend, err := openStore(ctx, cfg)
	if err != nil {
		logger.Errorf("restore: %v", err)
		return exitCode(err)
	}

	t, err := resolveInstant(at)
	if err != nil {
		logger.Errorf("restore: %v", err)
		return exitCode(err)
	}

	versions, err := reconstruct.At(idx, t, pattern)
	if err != nil {
		logger.Errorf("restore: %v", err)
		return exitCode(err)
	}

	r := restore.New(backend, env, logger)
	res, err := r.Restore(ctx, destination, versions)
	if err != nil {
		logger.Errorf("restore: %v", err)
		return exitCode(err)
	}

	logger.Infof("restore complete: %d restored, %d skipped, %d pending, %d failed",
		res.Restored, res.Skipped, len(res.Pending), len(res.Failed))
	for _, p := range res.Pending {
		logger.Warnf("pending retrieval: %s (%s)", p.Path, p.Hash)
	}
	for _, f := range res.Failed {
		logger.Errorf("failed: %s: %v", f.Path, f.Err)
	}
	if !res.OK() {
		return 3
	}
	return 0
}

func humanize(b int64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "kMGTPE"[exp])
}
