package interview

import (
	"strings"
	"unicode"
)

// Role 是候选人选择的岗位方向以及对应的技能指南。
type Role struct {
	SkillID string
	Label   string
}

// roleRules 按顺序匹配，先命中者胜出。
var roleRules = []struct {
	role     Role
	keywords []string
}{
	{Role{"ai-infra-interview", "AI Infra"}, []string{"ai infra", "ai infrastructure", "infra"}},
	{Role{"ml-ai-interview", "ML/AI"}, []string{"ml ai", "machine learning", "ml"}},
	{Role{"product-interview", "Product"}, []string{"product owner", "product manager", "pm"}},
	{Role{"fullstack-interview", "Fullstack"}, []string{"fullstack", "full stack"}},
	{Role{"frontend-interview", "Frontend"}, []string{"frontend", "front end"}},
	{Role{"backend-interview", "Backend"}, []string{"backend", "back end", "software engineer", "swe"}},
	{Role{"devops-interview", "DevOps"}, []string{"devops", "sre", "site reliability"}},
}

// MatchRole 把自由文本归类到岗位。大小写与标点不敏感，关键词按整词匹配。
func MatchRole(text string) (Role, bool) {
	normalized := " " + normalizeRoleText(text) + " "
	if strings.TrimSpace(normalized) == "" {
		return Role{}, false
	}

	for _, rule := range roleRules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, " "+kw+" ") {
				return rule.role, true
			}
		}
	}
	return Role{}, false
}

func normalizeRoleText(text string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)
	return strings.Join(strings.Fields(mapped), " ")
}
