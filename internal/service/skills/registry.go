package skills

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry indexes interview guides by id.
type Registry struct {
	skillsDir string
	skills    map[string]*Skill
	mu        sync.RWMutex
}

func NewRegistry(skillsDir string) *Registry {
	return &Registry{
		skillsDir: skillsDir,
		skills:    make(map[string]*Skill),
	}
}

// Load rescans the skills directory. Unreadable files are skipped.
func (r *Registry) Load() error {
	loaded := make(map[string]*Skill)

	if _, err := os.Stat(r.skillsDir); os.IsNotExist(err) {
		r.swap(loaded)
		return nil
	}

	entries, err := os.ReadDir(r.skillsDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()

		var skillPath string
		switch {
		case entry.IsDir():
			skillPath = filepath.Join(r.skillsDir, name, "SKILL.md")
			if _, err := os.Stat(skillPath); err != nil {
				continue
			}
		case strings.HasSuffix(name, ".md"):
			skillPath = filepath.Join(r.skillsDir, name)
		default:
			continue
		}

		skill, err := loadSkillFile(skillPath)
		if err != nil {
			log.Printf("[skills] skip %s: %v", skillPath, err)
			continue
		}
		loaded[skill.ID] = skill
	}

	r.swap(loaded)
	log.Printf("[skills] loaded count=%d dir=%s", len(loaded), r.skillsDir)
	return nil
}

func (r *Registry) swap(skills map[string]*Skill) {
	r.mu.Lock()
	r.skills = skills
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skill, ok := r.skills[id]
	return skill, ok
}

// List returns skill metadata sorted by id.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, Metadata{ID: s.ID, Title: s.Title, Source: s.Source, Description: s.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
