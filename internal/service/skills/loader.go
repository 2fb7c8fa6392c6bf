package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type skillFrontmatter struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

func loadSkillFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	frontmatter, body := parseFrontmatter(string(data))

	var fm skillFrontmatter
	if frontmatter != "" {
		if err := toml.Unmarshal([]byte(frontmatter), &fm); err != nil {
			return nil, fmt.Errorf("parse frontmatter %s: %w", path, err)
		}
	}

	id := fm.ID
	if id == "" {
		id = deriveIDFromPath(path)
	}
	title := fm.Name
	if title == "" {
		title = id
	}

	return &Skill{
		ID:          id,
		Title:       title,
		Description: fm.Description,
		Source:      "local",
		Path:        path,
		Body:        strings.TrimSpace(body),
	}, nil
}

// parseFrontmatter splits a leading +++ TOML block from the markdown body.
func parseFrontmatter(content string) (frontmatter, body string) {
	content = strings.TrimSpace(content)

	if !strings.HasPrefix(content, "+++") {
		return "", content
	}

	rest := strings.TrimPrefix(content, "+++")
	endIndex := strings.Index(rest, "\n+++")
	if endIndex == -1 {
		return "", content
	}

	frontmatter = strings.TrimSpace(rest[:endIndex])
	body = strings.TrimPrefix(rest[endIndex:], "\n+++")

	return frontmatter, body
}

func deriveIDFromPath(path string) string {
	base := filepath.Base(path)
	if base == "SKILL.md" {
		return filepath.Base(filepath.Dir(path))
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
