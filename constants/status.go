package constants

// RunStatus is the canonical status for rows in extraction_runs.
type RunStatus string

// Stable values (store these exact strings in DB).
const (
	RunStatusRunning   RunStatus = "RUNNING"   // in progress
	RunStatusExtracted RunStatus = "EXTRACTED" // usable text + line items
	RunStatusGuidance  RunStatus = "GUIDANCE"  // below usable confidence, guidance returned
	RunStatusFailed    RunStatus = "FAILED"    // environment fault
)

// Extraction methods reported in ExtractionResult.Method.
const (
	MethodNativeText    = "native-text"
	MethodLocalOCR      = "local-ocr"
	MethodLocalOCRCloud = "local-ocr+cloud"
	MethodCloudOCR      = "cloud-ocr"
	MethodGuidance      = "guidance"
)

// Line item sources.
const (
	SourcePattern   = "pattern"
	SourceAmounts   = "amount-mining"
	SourceHeuristic = "heuristic"
	SourceLLM       = "llm"
)
