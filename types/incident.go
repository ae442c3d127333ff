package types

import "time"

// Status is stored as a free string. Only StatusNew is ever assigned by the
// service, the others are set by admins.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusRejected   Status = "rejected"
)

// ManualProblemType marks a report submitted without any detection.
const ManualProblemType = "manual"

// IncidentRecord is a persisted, geocoded civic problem report.
type IncidentRecord struct {
	ID           string         `json:"id"`
	ProblemTypes []string       `json:"problem_types"`
	Location     GeoPoint       `json:"location"`
	WardName     string         `json:"ward_name"`
	FullAddress  string         `json:"full_address"`
	ImageURL     string         `json:"image_url"`
	Detections   DetectionBatch `json:"detections"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ProblemTypes derives the unique class names of the confirmed detections,
// first seen order, falling back to a single "manual" entry.
func ProblemTypes(batch DetectionBatch) []string {
	names := batch.ClassNames()
	if len(names) == 0 {
		return []string{ManualProblemType}
	}
	return names
}

// ToDocument is the schemaless layout written to the document store. ID is
// not part of the document, the store assigns it.
func (r IncidentRecord) ToDocument() map[string]interface{} {
	detections := make([]map[string]interface{}, 0, len(r.Detections))
	for _, d := range r.Detections {
		detections = append(detections, d.ToDocument())
	}
	return map[string]interface{}{
		"problem_types": r.ProblemTypes,
		"location": map[string]interface{}{
			"type":        r.Location.Type,
			"coordinates": r.Location.Coordinates,
		},
		"ward_name":    r.WardName,
		"full_address": r.FullAddress,
		"image_url":    r.ImageURL,
		"detections":   detections,
		"status":       string(r.Status),
		"created_at":   r.CreatedAt,
	}
}
