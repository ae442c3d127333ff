package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go-civicreport/annotate"
	"go-civicreport/config"
	"go-civicreport/cronjobs"
	"go-civicreport/db"
	"go-civicreport/detection"
	"go-civicreport/geocode"
	"go-civicreport/logger"
	"go-civicreport/metrics"
	"go-civicreport/mlmodel"
	"go-civicreport/processor"
	"go-civicreport/routes"
	"go-civicreport/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	sugar, err := logger.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer func() { _ = sugar.Sync() }()
	zap.ReplaceGlobals(sugar.Desugar())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		sugar.Fatalf("Failed to register metrics: %v", err)
	}

	// Models
	inference := mlmodel.NewClient(cfg.InferenceURL, cfg.InferenceTimeout)
	if err := inference.CheckHealth(ctx); err != nil {
		sugar.Warnf("Inference server at %s not reachable yet: %v", cfg.InferenceURL, err)
	}
	registry := detection.NewRegistry(inference, sugar)
	for _, m := range cfg.Models {
		registry.Register(ctx, detection.ModelSpec{
			Label: m.Label,
			Path:  m.Path,
			Options: mlmodel.PredictOptions{
				Confidence: m.Confidence,
				IoU:        m.IoU,
				ImageSize:  m.ImageSize,
			},
		})
	}

	// Geocoding is optional; without a key every report gets the sentinel.
	var geoClient geocode.ReverseGeocoder
	if mapsClient, err := geocode.NewMapsClient(cfg.MapsAPIKey); err != nil {
		sugar.Warnf("Reverse geocoding disabled: %v", err)
	} else {
		geoClient = mapsClient
	}

	var app *firebase.App
	if cfg.FirebaseCredentials != "" {
		if app, err = db.NewFirebaseApp(ctx, cfg.FirebaseCredentials, cfg.StorageBucket); err != nil {
			sugar.Errorf("Failed to initialize Firebase: %v", err)
		}
	}

	uploader, err := newUploader(ctx, app, cfg)
	if err != nil {
		sugar.Errorf("Image uploads disabled: %v", err)
	}

	// The service still starts without a database; store routes answer 500.
	coll, err := newCollection(ctx, app, cfg)
	if err != nil {
		sugar.Errorf("Database not connected: %v", err)
	}
	store := db.NewIncidentStore(coll, sugar)

	pipeline := processor.NewPipeline(processor.Options{
		Detector: detection.NewAggregator(registry, sugar),
		Geo:      geocode.NewResolver(geoClient, cfg.GeoSentinel, cfg.GeocodeTimeout, sugar),
		Burner:   annotate.New(cfg.PrimaryClass, sugar),
		Uploader: uploader,
		Store:    store,
		Pool:     processor.NewWorkerPool(cfg.WorkerPoolSize),
	}, sugar)

	scheduler, err := cronjobs.InitCronJobs(cfg.ModelRescanSchedule, registry, sugar)
	if err != nil {
		sugar.Errorf("Error scheduling model rescan: %v", err)
	}

	r := routes.SetupRouter(pipeline, registry, reg)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes.WithCORS(r, cfg.FrontendOrigin, cfg.DevAllowAllOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infof("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorf("Server exited: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	sugar.Infof("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs error
	errs = multierr.Append(errs, server.Shutdown(shutdownCtx))
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	errs = multierr.Append(errs, store.Close())
	if errs != nil {
		sugar.Warnf("Shutdown finished with errors: %v", errs)
	}
	sugar.Infof("Server stopped")
}

func newUploader(ctx context.Context, app *firebase.App, cfg *config.Config) (upload.Uploader, error) {
	if app == nil {
		return nil, errors.New("FIREBASE_CREDENTIALS environment variable not set")
	}
	if cfg.StorageBucket == "" {
		return nil, errors.New("STORAGE_BUCKET environment variable not set")
	}
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get storage client")
	}
	handle, err := client.Bucket(cfg.StorageBucket)
	if err != nil {
		return nil, errors.Wrapf(err, "open bucket %s", cfg.StorageBucket)
	}
	return upload.NewBucketUploader(handle, cfg.StorageBucket, cfg.UploadFolder, cfg.UploadTimeout), nil
}

func newCollection(ctx context.Context, app *firebase.App, cfg *config.Config) (db.Collection, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		coll, err := db.NewMongoCollection(ctx, cfg.AtlasURI, cfg.DBName, cfg.Collection)
		if err != nil {
			return nil, err
		}
		return coll, nil
	default:
		if app == nil {
			return nil, errors.New("FIREBASE_CREDENTIALS environment variable not set")
		}
		coll, err := db.NewFirestoreCollection(ctx, app, cfg.Collection)
		if err != nil {
			return nil, err
		}
		return coll, nil
	}
}
