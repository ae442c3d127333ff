package detection

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"go-civicreport/imagecodec"
	"go-civicreport/metrics"
	"go-civicreport/types"
)

// Aggregator runs every registered model against one frame.
type Aggregator struct {
	registry *Registry
	log      *zap.SugaredLogger
}

func NewAggregator(registry *Registry, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{registry: registry, log: log.Named("aggregator")}
}

// Detect concatenates the output of every loaded model in registration order.
// Unloaded or failing models contribute nothing; Detect itself never fails.
func (a *Aggregator) Detect(ctx context.Context, frame *imagecodec.Frame) types.DetectionBatch {
	batch := types.DetectionBatch{}
	for _, h := range a.registry.Handles() {
		if !h.Loaded() {
			a.log.Debugf("%s model not loaded, skipping", h.Label())
			metrics.ObserveModelPrediction(h.Label(), metrics.OutcomeSkipped)
			continue
		}

		dets, err := a.registry.Predict(ctx, h, frame)
		if err != nil {
			a.log.Warnf("error during %s inference, contributing no detections: %v", h.Label(), err)
			metrics.ObserveModelPrediction(h.Label(), metrics.OutcomeError)
			continue
		}
		metrics.ObserveModelPrediction(h.Label(), metrics.OutcomeSuccess)
		batch = append(batch, dets...)
	}
	return batch
}

// ClassCount is the number of detections of one class.
type ClassCount struct {
	ClassName string
	Count     int
}

// Count tallies detections per class in first seen order.
func Count(batch types.DetectionBatch) []ClassCount {
	index := map[string]int{}
	var counts []ClassCount
	for _, d := range batch {
		i, ok := index[d.ClassName]
		if !ok {
			i = len(counts)
			index[d.ClassName] = i
			counts = append(counts, ClassCount{ClassName: d.ClassName})
		}
		counts[i].Count++
	}
	return counts
}

const NoProblemsMessage = "No problems detected. You can still submit a manual report."

// Summarize renders "2 pothole(s), 1 garbage(s)", or the empty message.
func Summarize(batch types.DetectionBatch) string {
	if len(batch) == 0 {
		return NoProblemsMessage
	}
	parts := make([]string, 0, len(batch))
	for _, c := range Count(batch) {
		parts = append(parts, fmt.Sprintf("%d %s(s)", c.Count, c.ClassName))
	}
	return fmt.Sprintf("Problems detected: %s.", strings.Join(parts, ", "))
}
