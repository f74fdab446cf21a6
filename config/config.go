// Package config loads the serac configuration file: an INI document with
// [source], [archive] and [index] sections.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/radiac/serac/internal/errs"
)

// StorageKind selects the object store backend.
type StorageKind string

const (
	StorageLocal StorageKind = "local"
	StorageS3    StorageKind = "s3"
)

// SourceConfig is the [source] section: include/exclude path lists.
type SourceConfig struct {
	Include []string
	Exclude []string
}

// ArchiveConfig is the [archive] section: where encrypted blobs live.
type ArchiveConfig struct {
	Storage  StorageKind
	Path     string
	Key      string // s3 access key
	Secret   string // s3 secret key
	Bucket   string // s3 bucket name
	Password string // archive passphrase
}

// IndexConfig is the [index] section: where the metadata database lives.
type IndexConfig struct {
	Path string
}

// Config is the fully parsed, validated serac configuration.
type Config struct {
	Source  SourceConfig
	Archive ArchiveConfig
	Index   IndexConfig
}

// LoadFile reads and validates a config file from disk.
func LoadFile(filename string) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, filename)
	if err != nil {
		return nil, errs.New(errs.Config, "config.LoadFile", errors.Wrapf(err, "failed to load %v", filename))
	}
	return load(f, filename)
}

// LoadBytes parses and validates config content already in memory (used by tests).
func LoadBytes(content []byte) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, content)
	if err != nil {
		return nil, errs.New(errs.Config, "config.LoadBytes", errors.Wrap(err, "invalid configuration"))
	}
	return load(f, "<memory>")
}

func load(f *ini.File, filename string) (*Config, error) {
	cfg := &Config{}

	src := f.Section("source")
	cfg.Source.Include = splitNonEmpty(src.Key("include").ValueWithShadows())
	cfg.Source.Exclude = splitNonEmpty(src.Key("exclude").ValueWithShadows())

	arc := f.Section("archive")
	cfg.Archive.Storage = StorageKind(strings.ToLower(arc.Key("storage").MustString(string(StorageLocal))))
	cfg.Archive.Path = arc.Key("path").String()
	cfg.Archive.Key = arc.Key("key").String()
	cfg.Archive.Secret = arc.Key("secret").String()
	cfg.Archive.Bucket = arc.Key("bucket").String()
	cfg.Archive.Password = arc.Key("password").String()

	idx := f.Section("index")
	cfg.Index.Path = idx.Key("path").String()

	if err := cfg.validate(filename); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate enforces the structural requirements: no glob characters in
// include/exclude (globbing is unsupported), a known storage kind, and the
// paths required to open the index and object store.
func (c *Config) validate(filename string) error {
	if len(c.Source.Include) == 0 {
		return errs.New(errs.Config, "config.validate", errors.Errorf("%s: [source] include must list at least one path", filename))
	}
	for _, p := range append(append([]string{}, c.Source.Include...), c.Source.Exclude...) {
		if strings.ContainsAny(p, "*?[") {
			return errs.New(errs.Config, "config.validate", errors.Errorf("%s: glob patterns are not supported: %q", filename, p))
		}
		if !strings.HasPrefix(p, "/") {
			return errs.New(errs.Config, "config.validate", errors.Errorf("%s: source paths must be absolute: %q", filename, p))
		}
	}
	switch c.Archive.Storage {
	case StorageLocal, StorageS3:
	case "":
		c.Archive.Storage = StorageLocal
	default:
		return errs.New(errs.Config, "config.validate", errors.Errorf("%s: [archive] storage must be 'local' or 's3', got %q", filename, c.Archive.Storage))
	}
	if c.Archive.Path == "" {
		return errs.New(errs.Config, "config.validate", errors.Errorf("%s: [archive] path is required", filename))
	}
	if c.Archive.Storage == StorageS3 && c.Archive.Bucket == "" {
		return errs.New(errs.Config, "config.validate", errors.Errorf("%s: [archive] bucket is required for s3 storage", filename))
	}
	if c.Index.Path == "" {
		return errs.New(errs.Config, "config.validate", errors.Errorf("%s: [index] path is required", filename))
	}
	return nil
}

func splitNonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
