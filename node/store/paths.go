package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// On-disk layout of one ledger:
//
//	<datadir>/chains/<chain_id_hex>/MANIFEST.json
//	<datadir>/chains/<chain_id_hex>/db/ledger.db
func ChainDir(datadir string, chainIDHex string) string {
	return filepath.Join(datadir, "chains", chainIDHex)
}

func manifestPath(chainDir string) string {
	return filepath.Join(chainDir, "MANIFEST.json")
}

func dbPath(chainDir string) string {
	return filepath.Join(chainDir, "db", "ledger.db")
}

func ensureLayout(chainDir string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath(chainDir)), 0o750); err != nil {
		return fmt.Errorf("create ledger dir %s: %w", chainDir, err)
	}
	return nil
}
