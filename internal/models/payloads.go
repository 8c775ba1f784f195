package models

// These structs define the JSON payloads exchanged with callers of the
// extraction functions and with callback targets.

// SubmitRequest is the input for the extraction-submitter function.
type SubmitRequest struct {
	SourceRef      string `json:"sourceRef"`
	CallbackTarget string `json:"callbackTarget,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// SubmitResponse is returned as soon as the engine has accepted the work.
type SubmitResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// BatchStatusResponse is the output of the job-status function when several
// job IDs are requested at once. Missing IDs are listed rather than failing the call.
type BatchStatusResponse struct {
	Jobs    []*Job   `json:"jobs"`
	Missing []string `json:"missing,omitempty"`
}

// CallbackMessage is pushed to a job's callback target after it turns terminal.
type CallbackMessage struct {
	JobID         string    `json:"jobId"`
	Status        JobStatus `json:"status"`
	ExtractedText string    `json:"extractedText,omitempty"`
	ErrorDetail   string    `json:"errorDetail,omitempty"`
	OutputURI     string    `json:"outputUri,omitempty"`
}

// NewCallbackMessage builds the callback payload for a terminal job.
func NewCallbackMessage(job *Job) CallbackMessage {
	msg := CallbackMessage{
		JobID:     job.JobID,
		Status:    job.Status,
		OutputURI: job.OutputURI,
	}
	if job.Status == StatusSucceeded {
		msg.ExtractedText = job.ExtractedText
	} else {
		msg.ErrorDetail = job.ErrorDetail
	}
	return msg
}
