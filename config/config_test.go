package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "abc", Clean(`  "abc" `))
	assert.Equal(t, "abc", Clean(`'abc'`))
	assert.Equal(t, `"abc'`, Clean(`"abc'`))
	assert.Equal(t, `"`, Clean(`"`))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("MODELS_FILE", "")
	t.Setenv("GEOCODE_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendFirestore, cfg.StoreBackend)
	assert.Equal(t, "civic_problem_reports", cfg.UploadFolder)
	assert.Equal(t, 10*time.Second, cfg.GeocodeTimeout)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, "Pothole", cfg.Models[0].Label)
	assert.Equal(t, DefaultConfidence, cfg.Models[0].Confidence)
	assert.Equal(t, DefaultIoU, cfg.Models[1].IoU)
	assert.Equal(t, DefaultImageSize, cfg.Models[1].ImageSize)
	assert.GreaterOrEqual(t, cfg.WorkerPoolSize, 1)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_NAME", "")
	t.Setenv("DB_name", `"civic"`)
	t.Setenv("STORE_BACKEND", "Mongo")
	t.Setenv("DEV_ALLOW_ALL_ORIGINS", "TRUE")
	t.Setenv("INFERENCE_URL", "http://sidecar:5000/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "civic", cfg.DBName)
	assert.Equal(t, BackendMongo, cfg.StoreBackend)
	assert.True(t, cfg.DevAllowAllOrigins)
	assert.Equal(t, "http://sidecar:5000", cfg.InferenceURL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_BACKEND", "")
	t.Setenv("UPLOAD_TIMEOUT", "soon")
	_, err = Load()
	assert.Error(t, err)
}

func TestModelsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - label: Pothole
    path: weights/pothole.pt
    confidence: 0.4
  - label: Garbage
    path: weights/garbage.pt
`), 0o600))
	t.Setenv("MODELS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, 0.4, cfg.Models[0].Confidence)
	assert.Equal(t, DefaultConfidence, cfg.Models[1].Confidence)
	assert.Equal(t, "weights/garbage.pt", cfg.Models[1].Path)
}

func TestModelsFileNeedsLabelAndPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - label: Pothole\n"), 0o600))
	_, err := LoadModels(path)
	assert.Error(t, err)
}
