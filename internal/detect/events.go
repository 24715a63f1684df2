package detect

// ThrottleReason explains why a frame was denied.
type ThrottleReason int

const (
	ReasonIntervalNotMet ThrottleReason = iota
	ReasonDetectorDisabled
	ReasonSessionInactive
)

func (r ThrottleReason) String() string {
	switch r {
	case ReasonIntervalNotMet:
		return "interval_not_met"
	case ReasonDetectorDisabled:
		return "detector_disabled"
	case ReasonSessionInactive:
		return "session_inactive"
	default:
		return "unknown"
	}
}

// DetectionEvent is the closed set of events the router produces. Each event
// is an immutable value carrying its completion timestamp and source detector.
type DetectionEvent interface {
	EventTimestamp() uint64
	EventSource() DetectorType
	detectionEvent()
}

// EventMeta carries the fields common to every event variant.
type EventMeta struct {
	TimestampMs uint64
	Source      DetectorType
}

func (m EventMeta) EventTimestamp() uint64    { return m.TimestampMs }
func (m EventMeta) EventSource() DetectorType { return m.Source }
func (EventMeta) detectionEvent()             {}

// ObjectDetected reports object detection results plus their raw boxes.
type ObjectDetected struct {
	EventMeta
	Items      []Item
	Detections []Box
}

// BarcodeDetected reports barcode results after dedup accounting.
// DedupedCount is RawCount minus the number of unique items.
type BarcodeDetected struct {
	EventMeta
	Items        []Item
	RawCount     int
	DedupedCount int
}

// DocumentDetected reports document-region results.
type DocumentDetected struct {
	EventMeta
	Items []Item
}

// Throttled reports a denied frame and why it was denied.
type Throttled struct {
	EventMeta
	Reason ThrottleReason
}
