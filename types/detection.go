package types

import (
	"math"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Detection is one object instance reported by a model, in pixel coordinates.
type Detection struct {
	XMin       float64 `json:"x_min"`
	YMin       float64 `json:"y_min"`
	XMax       float64 `json:"x_max"`
	YMax       float64 `json:"y_max"`
	Confidence float64 `json:"confidence"`
	ClassName  string  `json:"class_name"`
}

// DetectionBatch keeps model iteration order. Batches from different models
// are concatenated, never merged.
type DetectionBatch []Detection

// ClassNames returns the distinct class names in first seen order.
func (b DetectionBatch) ClassNames() []string {
	seen := make(map[string]bool, len(b))
	names := make([]string, 0, len(b))
	for _, d := range b {
		if d.ClassName == "" || seen[d.ClassName] {
			continue
		}
		seen[d.ClassName] = true
		names = append(names, d.ClassName)
	}
	return names
}

// Normalize orders the corners and clamps confidence into [0,1].
func (d Detection) Normalize() Detection {
	if d.XMax < d.XMin {
		d.XMin, d.XMax = d.XMax, d.XMin
	}
	if d.YMax < d.YMin {
		d.YMin, d.YMax = d.YMax, d.YMin
	}
	if math.IsNaN(d.Confidence) {
		d.Confidence = 0
	}
	d.Confidence = math.Max(0, math.Min(1, d.Confidence))
	return d
}

// ToDocument is the schemaless layout used by the document store.
func (d Detection) ToDocument() map[string]interface{} {
	return map[string]interface{}{
		"x_min":      d.XMin,
		"y_min":      d.YMin,
		"x_max":      d.XMax,
		"y_max":      d.YMax,
		"confidence": d.Confidence,
		"class_name": d.ClassName,
	}
}

func decodeLoose(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// DetectionFromRecord converts a loosely typed key/value record, as it arrives
// after crossing a serialization boundary, into a Detection. Numbers may be
// strings and fields may be missing; missing or unusable fields stay zero.
// The returned error reports what was dropped, the Detection is always usable.
func DetectionFromRecord(rec map[string]interface{}) (Detection, error) {
	var d Detection
	err := decodeLoose(rec, &d)
	if err == nil {
		return d.Normalize(), nil
	}

	// decode field by field so one bad value does not cost the whole record
	d = Detection{}
	for k, v := range rec {
		_ = decodeLoose(map[string]interface{}{k: v}, &d)
	}
	return d.Normalize(), errors.Wrap(err, "partial detection record")
}

// DetectionsFromRecords converts every record. Records that fail entirely are
// kept as zero detections so indexes line up with the input.
func DetectionsFromRecords(recs []map[string]interface{}) (DetectionBatch, []error) {
	batch := make(DetectionBatch, 0, len(recs))
	var errs []error
	for i, rec := range recs {
		d, err := DetectionFromRecord(rec)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "detection %d", i))
		}
		batch = append(batch, d)
	}
	return batch, errs
}
