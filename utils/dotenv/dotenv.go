package dotenv

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnvs loads .env from the repository root so that entry points and
// tests running from nested packages resolve the same configuration.
func LoadDotEnvs() error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	for {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			return godotenv.Load(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// no .env anywhere up the tree, rely on ambient environment
			return nil
		}
		dir = parent
	}
}
