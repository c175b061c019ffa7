package backend

import "time"

const (
	sttPath      = "/api/simulation/stt"
	analyzePath  = "/api/simulation/analyze"
	scenarioPath = "/api/scenarios"

	audioFieldName = "audio_file"

	// DefaultTimeout bounds any single REST call to the backend.
	DefaultTimeout = 30 * time.Second
)
