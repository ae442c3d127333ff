package detection

import (
	"context"
	"regexp"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"go-civicreport/imagecodec"
	"go-civicreport/metrics"
	"go-civicreport/mlmodel"
	"go-civicreport/types"
)

// ErrInference wraps any prediction failure that survived the fusion fallback.
var ErrInference = errors.New("inference failed")

// fusionPattern matches the errors raised when a checkpoint saved with unfused
// conv/batchnorm layers runs under fused execution. Underscores count as
// separators so names like fuse_conv_and_bn match, "refused" does not.
var fusionPattern = regexp.MustCompile(`(?i)(batch[ _]?norm|(^|[^a-z])bn([^a-z]|$)|(^|[^a-z])fus(e|ed|ion|ing))`)

// IsFusionError reports whether err looks like a batchnorm/fusion incompatibility.
func IsFusionError(err error) bool {
	return err != nil && fusionPattern.MatchString(err.Error())
}

// ModelSpec binds a checkpoint to a label and its thresholds.
type ModelSpec struct {
	Label   string
	Path    string
	Options mlmodel.PredictOptions
}

type loadedModel struct {
	predictor mlmodel.Predictor
	fused     bool
}

// Handle is the owning slot of one registered model. The loaded predictor is
// swapped atomically, so in-flight predictions keep using the one they read.
type Handle struct {
	spec    ModelSpec
	current *atomic.Pointer[loadedModel]

	// reloadMu serialises loads of this slot; fuse is only touched under it.
	reloadMu sync.Mutex
	fuse     bool
}

func (h *Handle) Label() string { return h.spec.Label }

// Loaded reports whether the slot currently has a usable predictor.
func (h *Handle) Loaded() bool { return h.current.Load() != nil }

// Registry owns every configured model in registration order.
type Registry struct {
	loader mlmodel.Loader
	log    *zap.SugaredLogger

	mu      sync.RWMutex
	handles []*Handle
}

func NewRegistry(loader mlmodel.Loader, log *zap.SugaredLogger) *Registry {
	return &Registry{loader: loader, log: log.Named("registry")}
}

// Register adds a slot for spec and tries to load it. A missing checkpoint or
// a failed load returns nil: the slot is kept so Rescan can pick it up later,
// but callers get no handle to predict with.
func (r *Registry) Register(ctx context.Context, spec ModelSpec) *Handle {
	h := &Handle{
		spec:    spec,
		current: atomic.NewPointer[loadedModel](nil),
		fuse:    true,
	}

	r.mu.Lock()
	r.handles = append(r.handles, h)
	r.mu.Unlock()

	if !r.load(ctx, h) {
		return nil
	}
	return h
}

// Handles returns every slot, loaded or not, in registration order.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, len(r.handles))
	copy(out, r.handles)
	return out
}

// Rescan retries slots that have nothing loaded, e.g. weights that were
// deployed after startup. It returns how many slots became available.
func (r *Registry) Rescan(ctx context.Context) int {
	loaded := 0
	for _, h := range r.Handles() {
		if h.Loaded() {
			continue
		}
		if r.load(ctx, h) {
			loaded++
		}
	}
	return loaded
}

func (r *Registry) load(ctx context.Context, h *Handle) bool {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	if h.Loaded() {
		return true
	}
	// the path is resolved by the inference server, which may run elsewhere
	p, err := r.loader.Load(ctx, mlmodel.LoadRequest{Label: h.spec.Label, Path: h.spec.Path, Fuse: h.fuse})
	if errors.Is(err, mlmodel.ErrNotFound) {
		r.log.Warnf("%s model not found at %s, skipping: %v", h.spec.Label, h.spec.Path, err)
		return false
	}
	if err != nil {
		r.log.Errorf("error loading %s model: %v", h.spec.Label, err)
		return false
	}
	h.current.Store(&loadedModel{predictor: p, fused: h.fuse})
	r.log.Infof("%s model loaded successfully from %s", h.spec.Label, h.spec.Path)
	return true
}

// Predict runs one model. A batchnorm/fusion failure disables fusion for the
// slot, reloads the checkpoint unfused and retries exactly once.
func (r *Registry) Predict(ctx context.Context, h *Handle, frame *imagecodec.Frame) ([]types.Detection, error) {
	cur := h.current.Load()
	if cur == nil {
		return nil, errors.Wrapf(ErrInference, "%s model not loaded", h.spec.Label)
	}

	dets, err := cur.predictor.Predict(ctx, frame, h.spec.Options)
	if err == nil {
		return dets, nil
	}
	if !IsFusionError(err) {
		return nil, errors.Wrapf(ErrInference, "%s: %v", h.spec.Label, err)
	}

	r.log.Warnf("%s prediction hit a fusion error, reloading without fusion: %v", h.spec.Label, err)
	next, rerr := r.reloadUnfused(ctx, h, cur)
	if rerr != nil {
		return nil, errors.Wrapf(ErrInference, "%s: unfused reload: %v", h.spec.Label, rerr)
	}

	dets, err = next.predictor.Predict(ctx, frame, h.spec.Options)
	if err != nil {
		return nil, errors.Wrapf(ErrInference, "%s: retry without fusion: %v", h.spec.Label, err)
	}
	return dets, nil
}

// reloadUnfused swaps in an unfused predictor. If another request already
// replaced failed with an unfused model, that one is reused.
func (r *Registry) reloadUnfused(ctx context.Context, h *Handle, failed *loadedModel) (*loadedModel, error) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	if latest := h.current.Load(); latest != nil && latest != failed && !latest.fused {
		return latest, nil
	}

	h.fuse = false
	metrics.ObserveFusionFallback(h.spec.Label)
	p, err := r.loader.Load(ctx, mlmodel.LoadRequest{Label: h.spec.Label, Path: h.spec.Path, Fuse: false})
	if err != nil {
		return nil, err
	}
	next := &loadedModel{predictor: p, fused: false}
	h.current.Store(next)
	r.log.Infof("%s model reloaded without fusion", h.spec.Label)
	return next, nil
}
