package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/RezaEskandarii/jobcore/types"
)

type jobResponse struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	AttemptCount int       `json:"attempt_count"`
	Result       any       `json:"result,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// newJobResponse embeds a JSON result as-is and sends anything else as a string.
func newJobResponse(job *types.Job) jobResponse {
	resp := jobResponse{
		JobID:        job.ID.String(),
		Status:       job.Status.String(),
		AttemptCount: job.AttemptCount,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if job.Result != nil {
		if len(job.Result) > 0 && json.Valid(job.Result) {
			resp.Result = json.RawMessage(job.Result)
		} else {
			resp.Result = string(job.Result)
		}
	}
	return resp
}

func printBanner(addr string) {
	width := 46
	fmt.Println("##############################################")
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Printf("# %-*s #\n", width-4, "JobCore Started")
	fmt.Printf("# %-*s #\n", width-4, fmt.Sprintf("Submission API listening on %s", addr))
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Println("##############################################")
}
