package db

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"go-civicreport/types"
)

var (
	// ErrNotFound is returned when an id has no matching report.
	ErrNotFound = errors.New("report not found")
	// ErrInvalidID is returned when an id is not syntactically valid.
	ErrInvalidID = errors.New("invalid report id")
	// ErrUnavailable is returned when no document store is connected.
	ErrUnavailable = errors.New("database not connected")
)

// Document is one stored, schemaless record.
type Document struct {
	ID   string
	Data map[string]interface{}
}

// Collection is the document store the incident store runs on.
type Collection interface {
	Insert(ctx context.Context, doc map[string]interface{}) (string, error)
	// FindAll returns every document in any order.
	FindAll(ctx context.Context) ([]Document, error)
	// SetField sets one top level field and returns the updated document,
	// or ErrNotFound.
	SetField(ctx context.Context, id, field string, value interface{}) (Document, error)
	ValidID(id string) bool
	Close() error
}

// legacy and fallback values for records written before a field existed
const (
	legacyProblemTypeField = "problem_type"
	missingProblemType     = "N/A"
	missingText            = "N/A"
)

// IncidentStore persists, migrates, lists and updates incident records.
type IncidentStore struct {
	coll Collection
	now  func() time.Time
	log  *zap.SugaredLogger
}

func NewIncidentStore(coll Collection, log *zap.SugaredLogger) *IncidentStore {
	return &IncidentStore{
		coll: coll,
		now:  func() time.Time { return time.Now().UTC() },
		log:  log.Named("store"),
	}
}

// Ready reports whether a document store is connected.
func (s *IncidentStore) Ready() bool {
	return s != nil && s.coll != nil
}

// Close releases the underlying collection.
func (s *IncidentStore) Close() error {
	if !s.Ready() {
		return nil
	}
	return s.coll.Close()
}

// Create stores rec as a new report. created_at and status are always
// assigned here, whatever the input carries.
func (s *IncidentStore) Create(ctx context.Context, rec types.IncidentRecord) (types.IncidentRecord, error) {
	if !s.Ready() {
		return types.IncidentRecord{}, ErrUnavailable
	}
	rec.Status = types.StatusNew
	rec.CreatedAt = s.now()
	if len(rec.ProblemTypes) == 0 {
		rec.ProblemTypes = []string{types.ManualProblemType}
	}
	if rec.Detections == nil {
		rec.Detections = types.DetectionBatch{}
	}

	id, err := s.coll.Insert(ctx, rec.ToDocument())
	if err != nil {
		return types.IncidentRecord{}, errors.Wrap(err, "insert report")
	}
	rec.ID = id
	s.log.Infof("stored report %s (%s)", id, strings.Join(rec.ProblemTypes, ", "))
	return rec, nil
}

// List returns every report newest first, migrated to the current shape.
// Reports without a creation time come last. Documents that still cannot be
// decoded are logged and skipped.
func (s *IncidentStore) List(ctx context.Context) ([]types.IncidentRecord, error) {
	if !s.Ready() {
		return nil, ErrUnavailable
	}
	docs, err := s.coll.FindAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "query reports")
	}

	records := make([]types.IncidentRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := s.migrate(doc)
		if err != nil {
			s.log.Warnf("skipping report %s: %v", doc.ID, err)
			continue
		}
		records = append(records, rec)
	}
	sortNewestFirst(records)
	return records, nil
}

func sortNewestFirst(records []types.IncidentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].CreatedAt, records[j].CreatedAt
		if ti.IsZero() || tj.IsZero() {
			return !ti.IsZero() && tj.IsZero()
		}
		return ti.After(tj)
	})
}

// UpdateStatus sets the status of one report. Status is the only field ever
// changed after creation.
func (s *IncidentStore) UpdateStatus(ctx context.Context, id string, status types.Status) (types.IncidentRecord, error) {
	if !s.Ready() {
		return types.IncidentRecord{}, ErrUnavailable
	}
	if !s.coll.ValidID(id) {
		return types.IncidentRecord{}, errors.Wrapf(ErrInvalidID, "%q", id)
	}

	doc, err := s.coll.SetField(ctx, id, "status", string(status))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.IncidentRecord{}, errors.Wrapf(ErrNotFound, "report %s", id)
		}
		return types.IncidentRecord{}, errors.Wrapf(err, "update report %s", id)
	}
	return s.migrate(doc)
}

// migrate is Migrate with the dropped detection values logged.
func (s *IncidentStore) migrate(doc Document) (types.IncidentRecord, error) {
	rec, warnings, err := migrate(doc)
	for _, w := range warnings {
		s.log.Warnf("report %s: %v", doc.ID, w)
	}
	return rec, err
}

// Migrate converts a stored document of any schema revision into the current
// record shape. Storage is never rewritten. Detections are decoded one field
// at a time, so a bad value zeroes that field instead of failing the record.
func Migrate(doc Document) (types.IncidentRecord, error) {
	rec, _, err := migrate(doc)
	return rec, err
}

func migrate(doc Document) (types.IncidentRecord, []error, error) {
	data := make(map[string]interface{}, len(doc.Data)+4)
	for k, v := range doc.Data {
		data[k] = v
	}

	if isMissing(data["problem_types"]) {
		if legacy, ok := data[legacyProblemTypeField].(string); ok && legacy != "" {
			data["problem_types"] = []string{legacy}
		} else {
			data["problem_types"] = []string{missingProblemType}
		}
	}
	backfill(data, "image_url", "")
	backfill(data, "ward_name", missingText)
	backfill(data, "full_address", missingText)
	backfill(data, "status", string(types.StatusNew))

	detections, warnings := detectionRecords(data["detections"])
	delete(data, "detections")

	var rec types.IncidentRecord
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
		Result:           &rec,
	})
	if err != nil {
		return types.IncidentRecord{}, nil, err
	}
	if err := dec.Decode(data); err != nil {
		return types.IncidentRecord{}, warnings, errors.Wrapf(err, "decode report %s", doc.ID)
	}

	batch, convErrs := types.DetectionsFromRecords(detections)
	rec.ID = doc.ID
	rec.Detections = batch
	return rec, append(warnings, convErrs...), nil
}

// detectionRecords accepts the list shapes the document stores hand back.
// Entries that are not key/value records are skipped with a warning.
func detectionRecords(v interface{}) ([]map[string]interface{}, []error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []map[string]interface{}:
		return list, nil
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(list))
		var errs []error
		for i, item := range list {
			rec, ok := item.(map[string]interface{})
			if !ok {
				errs = append(errs, errors.Errorf("detection %d: unexpected %T", i, item))
				continue
			}
			out = append(out, rec)
		}
		return out, errs
	default:
		return nil, []error{errors.Errorf("detections: unexpected %T", v)}
	}
}

func isMissing(v interface{}) bool {
	return v == nil
}

func backfill(data map[string]interface{}, key string, value interface{}) {
	if isMissing(data[key]) {
		data[key] = value
	}
}
