package domain

import "time"

// JobView is the persisted job-status wire shape returned to polling clients.
type JobView struct {
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	Filename        string    `json:"filename"`
	ProgressPercent int       `json:"progress_percent"`
	Result          Result    `json:"result"`
	Error           *JobError `json:"error"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// View projects a job into its wire shape.
func (j *Job) View() JobView {
	c := j.Clone()
	return JobView{
		JobID:           c.ID,
		Status:          c.Status,
		Filename:        c.Filename,
		ProgressPercent: c.ProgressPercent,
		Result:          c.Result,
		Error:           c.Error,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}
