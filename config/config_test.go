package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
[source]
include = /home/alice/docs
include = /home/alice/photos
exclude = /home/alice/docs/tmp

[archive]
storage = local
path = /var/backups/serac
password = correct-horse-battery-staple

[index]
path = /var/backups/serac/index.db
`

func TestValidConfig(t *testing.T) {
	cfg := loadOrFail(t, validConfig)
	assert.Equal(t, []string{"/home/alice/docs", "/home/alice/photos"}, cfg.Source.Include)
	assert.Equal(t, []string{"/home/alice/docs/tmp"}, cfg.Source.Exclude)
	assert.Equal(t, StorageLocal, cfg.Archive.Storage)
	assert.Equal(t, "/var/backups/serac", cfg.Archive.Path)
	assert.Equal(t, "/var/backups/serac/index.db", cfg.Index.Path)
}

func TestEmptyConfig(t *testing.T) {
	ensureFail(t, "", "missing source include")
}

func TestMissingArchivePath(t *testing.T) {
	const cfgString = `
[source]
include = /data

[index]
path = /data/.serac/index.db
`
	ensureFail(t, cfgString, "missing archive path")
}

func TestGlobRejected(t *testing.T) {
	const cfgString = `
[source]
include = /data/*.txt

[archive]
storage = local
path = /backup

[index]
path = /backup/index.db
`
	ensureFail(t, cfgString, "glob patterns rejected")
}

func TestRelativePathRejected(t *testing.T) {
	const cfgString = `
[source]
include = data

[archive]
storage = local
path = /backup

[index]
path = /backup/index.db
`
	ensureFail(t, cfgString, "relative source path rejected")
}

func TestS3RequiresBucket(t *testing.T) {
	const cfgString = `
[source]
include = /data

[archive]
storage = s3
path = backups/serac
key = AKIA
secret = shh

[index]
path = /data/.serac/index.db
`
	ensureFail(t, cfgString, "s3 storage requires bucket")
}

func TestS3Config(t *testing.T) {
	const cfgString = `
[source]
include = /data

[archive]
storage = s3
path = backups/serac
key = AKIA
secret = shh
bucket = my-cold-bucket

[index]
path = /data/.serac/index.db
`
	cfg := loadOrFail(t, cfgString)
	assert.Equal(t, StorageS3, cfg.Archive.Storage)
	assert.Equal(t, "my-cold-bucket", cfg.Archive.Bucket)
	assert.Equal(t, "AKIA", cfg.Archive.Key)
}

func TestUnknownStorageRejected(t *testing.T) {
	const cfgString = `
[source]
include = /data

[archive]
storage = azure
path = backups

[index]
path = /data/.serac/index.db
`
	ensureFail(t, cfgString, "unknown storage kind rejected")
}

func ensureFail(t *testing.T, cfgString string, desc string) {
	_, err := LoadBytes([]byte(cfgString))
	if err == nil {
		t.Fatalf("Expected config err not found: %s", desc)
	}
	t.Logf("Config err: %v", err.Error())
}

func loadOrFail(t *testing.T, cfgString string) *Config {
	cfg, err := LoadBytes([]byte(cfgString))
	require.NoError(t, err)
	return cfg
}
