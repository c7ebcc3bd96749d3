package storage

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/ortilabs/ortimarket/internal/models"
)

// LoadSeedImports reads demo import documents from a directory so they can
// be injected into the store at startup. The store treats seeds exactly
// like live uploads. A missing directory yields no seeds.
func LoadSeedImports(dir string) ([]models.StoredImport, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var seeds []models.StoredImport
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read seed import")
			continue
		}
		stored := NormalizeImport(data)
		if stored == nil {
			log.Warn().Str("path", path).Msg("Skipping malformed seed import")
			continue
		}
		seeds = append(seeds, *stored)
	}

	if len(seeds) > 0 {
		log.Info().Int("seeds", len(seeds)).Str("dir", dir).Msg("Seed imports loaded")
	}
	return seeds, nil
}
