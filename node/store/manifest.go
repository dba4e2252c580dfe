package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const SchemaVersionV1 uint32 = 1

// Manifest is the small JSON sidecar next to the bbolt file. It binds the
// directory to one chain id and carries the committed light client root,
// which the light client saves from inside a ledger Update and so cannot
// live in bbolt.
type Manifest struct {
	SchemaVersion uint32 `json:"schema_version"`
	ChainIDHex    string `json:"chain_id_hex"`

	LightClientRootHex string `json:"light_client_root,omitempty"`
	RootUpdatedUnix    int64  `json:"root_updated_unix,omitempty"`
}

func (m *Manifest) check(chainIDHex string) error {
	if m.SchemaVersion == 0 || m.SchemaVersion > SchemaVersionV1 {
		return fmt.Errorf("manifest schema_version %d not supported (max %d)", m.SchemaVersion, SchemaVersionV1)
	}
	if m.ChainIDHex != chainIDHex {
		return fmt.Errorf("manifest chain_id_hex %s does not match %s", m.ChainIDHex, chainIDHex)
	}
	return nil
}

func (m Manifest) withRoot(rootHex string, now time.Time) Manifest {
	m.LightClientRootHex = rootHex
	m.RootUpdatedUnix = now.Unix()
	return m
}

// loadOrInitManifest reads the manifest of chainDir, writing a fresh one on
// first open.
func loadOrInitManifest(chainDir, chainIDHex string) (*Manifest, error) {
	b, err := os.ReadFile(manifestPath(chainDir)) // #nosec G304 -- path is derived from the operator's datadir.
	if errors.Is(err, os.ErrNotExist) {
		m := &Manifest{SchemaVersion: SchemaVersionV1, ChainIDHex: chainIDHex}
		if err := writeManifest(chainDir, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("manifest json: %w", err)
	}
	if err := m.check(chainIDHex); err != nil {
		return nil, err
	}
	return &m, nil
}

// writeManifest replaces the manifest atomically: the new content is synced
// under a temp name in the same directory and renamed over the old file,
// then the directory entry is synced.
func writeManifest(chainDir string, m *Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest json: %w", err)
	}
	f, err := os.CreateTemp(chainDir, "MANIFEST-*.tmp")
	if err != nil {
		return fmt.Errorf("manifest temp: %w", err)
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("manifest write: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("manifest fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("manifest close: %w", err)
	}
	if err := os.Rename(tmp, manifestPath(chainDir)); err != nil {
		return fmt.Errorf("manifest rename: %w", err)
	}
	return syncDir(chainDir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 -- dir is derived from the operator's datadir.
	if err != nil {
		return fmt.Errorf("open dir for fsync: %w", err)
	}
	serr := d.Sync()
	cerr := d.Close()
	if serr != nil {
		return fmt.Errorf("fsync dir: %w", serr)
	}
	return cerr
}
