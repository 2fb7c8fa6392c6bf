package interview

// JobContext captures the posting the candidate is interviewing for.
type JobContext struct {
	Title            string   `json:"title"`
	Company          string   `json:"company"`
	Description      string   `json:"description,omitempty"`
	Qualifications   []string `json:"qualifications,omitempty"`
	Responsibilities []string `json:"responsibilities,omitempty"`
	// DefaultQuestion is a cached opening question for the job, if one exists.
	DefaultQuestion string `json:"defaultQuestion,omitempty"`
}

// Context is the opaque job/resume/skill material attached to a session.
type Context struct {
	Job     *JobContext `json:"job,omitempty"`
	Resume  string      `json:"resume,omitempty"`
	SkillID string      `json:"skillId,omitempty"`
}

// HasJob reports whether a job posting is attached.
func (c *Context) HasJob() bool {
	return c != nil && c.Job != nil && c.Job.Title != ""
}

// HasJobAndResume reports whether both structured inputs are present.
func (c *Context) HasJobAndResume() bool {
	return c.HasJob() && c.Resume != ""
}
