package detect

// DetectorType identifies an independent throttling and enable domain.
type DetectorType int

const (
	DetectorObject DetectorType = iota
	DetectorBarcode
	DetectorDocument
)

// DetectorTypes lists all detector types in a stable order.
var DetectorTypes = []DetectorType{DetectorObject, DetectorBarcode, DetectorDocument}

func (d DetectorType) String() string {
	switch d {
	case DetectorObject:
		return "object"
	case DetectorBarcode:
		return "barcode"
	case DetectorDocument:
		return "document"
	default:
		return "unknown"
	}
}

// ScanMode selects which detector a frame is routed to.
type ScanMode int

const (
	ScanModeObjectDetection ScanMode = iota
	ScanModeBarcode
	ScanModeDocumentText
)

func (m ScanMode) String() string {
	switch m {
	case ScanModeObjectDetection:
		return "object_detection"
	case ScanModeBarcode:
		return "barcode"
	case ScanModeDocumentText:
		return "document_text"
	default:
		return "unknown"
	}
}

// Clock supplies monotonic millisecond timestamps. Injected so throttling
// decisions are deterministic under test.
type Clock interface {
	NowMillis() uint64
}

// DedupWindow suppresses repeat barcode reports within a time window.
// CheckAndRecordBarcode returns true when the value has not been seen
// within the window, recording it as seen either way.
type DedupWindow interface {
	CheckAndRecordBarcode(value string, format int, itemID string) bool
	ResetAll()
	GetStats() DedupStats
}

// DedupStats is a snapshot of dedup window activity.
type DedupStats struct {
	Tracked        int
	NewCount       uint64
	DuplicateCount uint64
	WindowMs       uint64
}

// Item is a single result reported by an external detection client.
type Item struct {
	ID      string
	Label   string
	Score   float32
	Barcode *BarcodeValue
}

// BarcodeValue is the decoded payload of a barcode item.
type BarcodeValue struct {
	Value  string
	Format int
}

// Box is a raw detection region reported alongside object items.
type Box struct {
	X, Y, W, H float32
	Score      float32
	Label      string
}

// GateStats is a per-detector snapshot of rate gate activity.
type GateStats struct {
	MinIntervalMs    uint64
	LastInvocationMs uint64
	Invoked          bool
	AllowedCount     uint64
	DeniedCount      uint64
}

// AdaptiveStats is a snapshot of the adaptive throttle controller.
type AdaptiveStats struct {
	Enabled         bool
	Throttling      bool
	Multiplier      float64
	RollingAvgMs    float64
	SampleCount     int
	TotalSamples    uint64
	AdjustmentsUp   uint64
	AdjustmentsDown uint64
}

// RouterStats is an aggregate snapshot of router activity, recomputed on
// demand. It is a value, never shared mutable state.
type RouterStats struct {
	SessionActive   bool
	UptimeMs        uint64
	TotalFrames     uint64
	FramesPerSecond float64
	Invocations     map[DetectorType]uint64
	ThrottledCount  uint64
	DedupedCount    uint64
	Throttle        map[DetectorType]GateStats
	Dedup           DedupStats
}
