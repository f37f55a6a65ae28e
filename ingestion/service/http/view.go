package http

import "shiporacle/attestation/coordinator"

// resultView adds the processing time in milliseconds to a coordinator result.
type resultView struct {
	*coordinator.Result
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

func viewOf(res *coordinator.Result) *resultView {
	if res == nil {
		return nil
	}
	return &resultView{Result: res, ProcessingTimeMs: res.ProcessingTime.Milliseconds()}
}
