package processor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go-civicreport/db"
	"go-civicreport/detection"
	"go-civicreport/imagecodec"
	"go-civicreport/metrics"
	"go-civicreport/types"
	"go-civicreport/upload"
)

type Detector interface {
	Detect(ctx context.Context, frame *imagecodec.Frame) types.DetectionBatch
}

type GeoResolver interface {
	Resolve(ctx context.Context, lat, lon float64) types.GeoResolution
}

// Burner draws detections onto an encoded image. A nil result means the
// image could not be annotated.
type Burner interface {
	Burn(data []byte, dets []types.Detection) []byte
}

type Store interface {
	Ready() bool
	Create(ctx context.Context, rec types.IncidentRecord) (types.IncidentRecord, error)
	List(ctx context.Context) ([]types.IncidentRecord, error)
	UpdateStatus(ctx context.Context, id string, status types.Status) (types.IncidentRecord, error)
}

// Pipeline composes detection, annotation, upload, geocoding and storage
// into the detect and submit operations.
type Pipeline struct {
	detector Detector
	geo      GeoResolver
	burner   Burner
	uploader upload.Uploader
	store    Store
	pool     *WorkerPool
	log      *zap.SugaredLogger
}

type Options struct {
	Detector Detector
	Geo      GeoResolver
	Burner   Burner
	Uploader upload.Uploader
	Store    Store
	Pool     *WorkerPool
}

func NewPipeline(opts Options, log *zap.SugaredLogger) *Pipeline {
	pool := opts.Pool
	if pool == nil {
		pool = NewWorkerPool(0)
	}
	return &Pipeline{
		detector: opts.Detector,
		geo:      opts.Geo,
		burner:   opts.Burner,
		uploader: opts.Uploader,
		store:    opts.Store,
		pool:     pool,
		log:      log.Named("pipeline"),
	}
}

// DetectResult is the outcome of one detect call.
type DetectResult struct {
	Detections       types.DetectionBatch
	Summary          string
	ProblemsDetected bool
}

// Detect decodes the base64 payload and runs every loaded model on it. Only
// an undecodable image fails; model failures shrink the batch instead.
func (p *Pipeline) Detect(ctx context.Context, payload string) (DetectResult, error) {
	start := time.Now()
	defer metrics.ObserveDuration("detect", start)

	batch, err := runPooled(ctx, p.pool, func() (types.DetectionBatch, error) {
		frame, err := imagecodec.DecodeFrame(payload)
		if err != nil {
			return nil, err
		}
		return p.detector.Detect(ctx, frame), nil
	})
	if err != nil {
		return DetectResult{}, err
	}

	classes := make([]string, 0, len(batch))
	for _, d := range batch {
		classes = append(classes, d.ClassName)
	}
	metrics.ObserveDetections(classes)

	p.log.Infof("detect finished with %d detection(s) in %s", len(batch), time.Since(start))
	return DetectResult{
		Detections:       batch,
		Summary:          detection.Summarize(batch),
		ProblemsDetected: len(batch) > 0,
	}, nil
}

// SubmitRequest carries a report confirmed by the user. Detections are the
// confirmed list and are drawn as given, never re-detected.
type SubmitRequest struct {
	Image      string
	Location   types.LocationPoint
	Detections types.DetectionBatch
}

// Submit annotates and uploads the image while the location is geocoded, then
// stores the report. The store write only happens after both finished.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (types.IncidentRecord, error) {
	start := time.Now()
	defer metrics.ObserveDuration("submit", start)

	rec, err := p.submit(ctx, req)
	if err != nil {
		metrics.ObserveSubmission(metrics.OutcomeError)
		return types.IncidentRecord{}, err
	}
	metrics.ObserveSubmission(metrics.OutcomeSuccess)
	return rec, nil
}

func (p *Pipeline) submit(ctx context.Context, req SubmitRequest) (types.IncidentRecord, error) {
	if p.store == nil || !p.store.Ready() {
		return types.IncidentRecord{}, db.ErrUnavailable
	}
	raw, err := imagecodec.DecodeBase64(req.Image)
	if err != nil {
		return types.IncidentRecord{}, err
	}
	dets := req.Detections
	if dets == nil {
		dets = types.DetectionBatch{}
	}

	var (
		imageURL string
		geo      types.GeoResolution
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		url, err := runPooled(gctx, p.pool, func() (string, error) {
			return p.annotateAndUpload(gctx, raw, dets)
		})
		imageURL = url
		return err
	})
	g.Go(func() error {
		geo = p.geo.Resolve(gctx, req.Location.Lat, req.Location.Lon)
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.IncidentRecord{}, err
	}

	return p.store.Create(ctx, types.IncidentRecord{
		ProblemTypes: types.ProblemTypes(dets),
		Location:     types.NewGeoPoint(req.Location),
		WardName:     geo.AdminAreaName,
		FullAddress:  geo.FullAddress,
		ImageURL:     imageURL,
		Detections:   dets,
	})
}

// annotateAndUpload uploads the annotated image, or the original bytes when
// annotation failed. An upload failure aborts the submission.
func (p *Pipeline) annotateAndUpload(ctx context.Context, raw []byte, dets types.DetectionBatch) (string, error) {
	if p.uploader == nil {
		return "", errors.Wrap(upload.ErrUpload, "no object storage configured")
	}
	data := raw
	if p.burner != nil {
		if burned := p.burner.Burn(raw, dets); burned != nil {
			data = burned
		} else {
			p.log.Warnf("annotation failed, uploading the original image")
		}
	}
	return p.uploader.Upload(ctx, data)
}

func (p *Pipeline) StoreReady() bool {
	return p.store != nil && p.store.Ready()
}

// List returns every stored report, newest first.
func (p *Pipeline) List(ctx context.Context) ([]types.IncidentRecord, error) {
	if p.store == nil {
		return nil, db.ErrUnavailable
	}
	return p.store.List(ctx)
}

func (p *Pipeline) UpdateStatus(ctx context.Context, id string, status types.Status) (types.IncidentRecord, error) {
	if p.store == nil {
		return types.IncidentRecord{}, db.ErrUnavailable
	}
	return p.store.UpdateStatus(ctx, id, status)
}
