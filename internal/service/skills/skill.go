package skills

// Skill is an interview guide loaded from a SKILL.md file.
type Skill struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Path        string `json:"-"`
	Body        string `json:"-"`
}

// Metadata is the listing view of a skill.
type Metadata struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Source      string `json:"source"`
	Description string `json:"description"`
}
