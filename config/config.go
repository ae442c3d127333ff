package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
)

// Config holds every runtime setting of the service.
type Config struct {
	Port               string
	FrontendOrigin     string
	DevAllowAllOrigins bool

	LogLevel string
	LogJSON  bool

	MapsAPIKey     string
	GeoSentinel    string
	GeocodeTimeout time.Duration

	StoreBackend        string
	FirebaseCredentials string // base64 encoded service account json
	AtlasURI            string
	DBName              string
	Collection          string

	StorageBucket string
	UploadFolder  string
	UploadTimeout time.Duration

	InferenceURL        string
	InferenceTimeout    time.Duration
	Models              []ModelConfig
	WorkerPoolSize      int
	ModelRescanSchedule string
	PrimaryClass        string
}

// ModelConfig describes one detector. Zero thresholds inherit the defaults.
type ModelConfig struct {
	Label      string  `yaml:"label"`
	Path       string  `yaml:"path"`
	Confidence float64 `yaml:"confidence"`
	IoU        float64 `yaml:"iou"`
	ImageSize  int     `yaml:"imageSize"`
}

type modelsFile struct {
	Models []ModelConfig `yaml:"models"`
}

const (
	DefaultConfidence = 0.25
	DefaultIoU        = 0.5
	DefaultImageSize  = 640
)

// DefaultModels mirrors the two detectors shipped in the model/ directory.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{Label: "Pothole", Path: filepath.Join("model", "best.pt")},
		{Label: "Garbage", Path: filepath.Join("model", "garbagedetectionbest.pt")},
	}
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		FrontendOrigin:      getEnv("FRONTEND_ORIGIN", "http://localhost:5173"),
		DevAllowAllOrigins:  getBool("DEV_ALLOW_ALL_ORIGINS", false),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogJSON:             getBool("LOG_JSON", false),
		MapsAPIKey:          getEnv("GOOGLE_MAPS_API_KEY", ""),
		GeoSentinel:         getEnv("GEO_SENTINEL", "Unknown"),
		StoreBackend:        strings.ToLower(getEnv("STORE_BACKEND", BackendFirestore)),
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),
		AtlasURI:            getEnv("ATLAS_URI", ""),
		// several .env casings are in circulation
		DBName:              firstEnv("DB_NAME", "DB_name", "DB"),
		Collection:          getEnv("COLLECTION", "problems"),
		StorageBucket:       getEnv("STORAGE_BUCKET", ""),
		UploadFolder:        getEnv("UPLOAD_FOLDER", "civic_problem_reports"),
		InferenceURL:        strings.TrimRight(getEnv("INFERENCE_URL", "http://localhost:5000"), "/"),
		ModelRescanSchedule: getEnv("MODEL_RESCAN_SCHEDULE", "*/10 * * * *"),
		PrimaryClass:        getEnv("PRIMARY_CLASS", "pothole"),
		Models:              DefaultModels(),
	}

	var err error
	if cfg.GeocodeTimeout, err = getDuration("GEOCODE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.UploadTimeout, err = getDuration("UPLOAD_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.InferenceTimeout, err = getDuration("INFERENCE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolSize, err = getInt("WORKER_POOL_SIZE", runtime.NumCPU()); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolSize < 1 {
		cfg.WorkerPoolSize = 1
	}

	if path := getEnv("MODELS_FILE", ""); path != "" {
		models, err := LoadModels(path)
		if err != nil {
			return nil, err
		}
		cfg.Models = models
	}
	for i := range cfg.Models {
		cfg.Models[i] = cfg.Models[i].withDefaults()
	}

	switch cfg.StoreBackend {
	case BackendFirestore, BackendMongo:
	default:
		return nil, errors.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// LoadModels reads a YAML model list.
func LoadModels(path string) ([]ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read models file %s", path)
	}
	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse models file %s", path)
	}
	for i, m := range f.Models {
		if m.Label == "" || m.Path == "" {
			return nil, errors.Errorf("models file %s: entry %d needs label and path", path, i)
		}
	}
	return f.Models, nil
}

func (m ModelConfig) withDefaults() ModelConfig {
	if m.Confidence <= 0 {
		m.Confidence = DefaultConfidence
	}
	if m.IoU <= 0 {
		m.IoU = DefaultIoU
	}
	if m.ImageSize <= 0 {
		m.ImageSize = DefaultImageSize
	}
	return m
}

// Clean trims whitespace and one pair of matching surrounding quotes, which
// hand edited .env files tend to carry.
func Clean(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			v = v[1 : len(v)-1]
		}
	}
	return v
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		if v := Clean(val); v != "" {
			return v
		}
	}
	return defaultVal
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := getEnv(k, ""); v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, defaultVal bool) bool {
	v := strings.ToLower(getEnv(key, ""))
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return n, nil
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return d, nil
}
