package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

// Sampling temperatures used by the interviewer prompts.
const (
	TemperatureQuestion        float32 = 0.2
	TemperatureJDMatch         float32 = 0.3
	TemperatureDefaultQuestion float32 = 0.7
)

const interviewerPersona = "You are an interview expert. You are an HR at a high-tech company"

// GreetingPrompt asks for a short opening line when no job context drives the greeting.
func GreetingPrompt() string {
	return interviewerPersona + " interviewing a software engineer. " +
		"Greet the candidate, introduce yourself as Amanda, say the interview starts now, and ask them to introduce themselves. " +
		"Keep it within 20 words in English."
}

// QuestionPrompt asks for question #next of budget. With job and resume context
// the prompt embeds the posting, the resume summary and an optional skill guide.
func QuestionPrompt(ictx *interview.Context, skillBody string, next, budget int) string {
	if next > budget {
		return interviewerPersona + ". The planned questions are done. " +
			"Ask one short closing question inviting the candidate to add anything or ask about the role. " +
			"Keep it within 20 words in English."
	}

	if !ictx.HasJobAndResume() {
		return fmt.Sprintf("%s interviewing a software engineer. Ask interview question #%d of %d. "+
			"Keep it within 20 words in English. Do not repeat the greeting or the introduction request.",
			interviewerPersona, next, budget)
	}

	job := ictx.Job
	var b strings.Builder
	b.WriteString("You are an experienced technical interviewer conducting a job interview.")
	if skillBody != "" {
		b.WriteString("\n\nINTERVIEW GUIDE:\n")
		b.WriteString(skillBody)
		b.WriteString("\n\nFollow the interview style, focus areas, and question types defined in the guide above.")
	}

	qualifications := "N/A"
	if len(job.Qualifications) > 0 {
		qualifications = strings.Join(head(job.Qualifications, 5), ", ")
	}

	fmt.Fprintf(&b, `

JOB DETAILS:
- Position: %s at %s
- Description: %s...
- Key Qualifications: %s

CANDIDATE RESUME (Summary):
%s...

INSTRUCTIONS:
- You are asking question #%d of %d
- Base your question on the job requirements and candidate's background
- Ask ONE specific, relevant question (max 25 words)
- Be conversational and professional
- DO NOT repeat previous questions
- Respond in English only`,
		job.Title, job.Company, clip(job.Description, 300), qualifications,
		clip(ictx.Resume, 800), next, budget)

	return b.String()
}

// JDMatchPrompt asks for an opening question tying the resume to the posting.
func JDMatchPrompt(ictx *interview.Context, skillBody string) (system, user string) {
	job := ictx.Job
	system = fmt.Sprintf(`You are an experienced interviewer following this interview guide:

%s

JOB DETAILS:
- Position: %s at %s
- Description: %s...
- Key Requirements: %s

CANDIDATE RESUME (Summary):
%s...

TASK:
Based on the "JD Match Question" template in the interview guide above, generate ONE specific opening question (max 30 words) that connects a specific skill or experience from the candidate's resume to a specific requirement from the job description.

Return ONLY the question, nothing else.`,
		skillBody, job.Title, job.Company, clip(job.Description, 200),
		strings.Join(head(job.Qualifications, 3), ", "), clip(ictx.Resume, 600))

	return system, "Generate the first JD-matched interview question."
}

// DefaultQuestionPrompt asks for a reusable opening question for a job posting.
func DefaultQuestionPrompt(job *interview.JobContext) (system, user string) {
	bullets := func(items []string) string {
		if len(items) == 0 {
			return "Not specified"
		}
		return "- " + strings.Join(items, "\n- ")
	}

	system = fmt.Sprintf(`You are an experienced technical interviewer. Generate ONE excellent opening question for this job interview.

JOB DETAILS:
Position: %s at %s
Description: %s

Required Qualifications:
%s

Key Responsibilities:
%s

The question must be relevant to the role, open-ended, professional yet conversational.
Return ONLY the question text, nothing else.`,
		job.Title, job.Company, job.Description, bullets(job.Qualifications), bullets(job.Responsibilities))

	return system, "Generate the opening question."
}

// FallbackDefaultQuestion is used when the default question cannot be generated.
func FallbackDefaultQuestion(jobTitle string) string {
	return fmt.Sprintf("Can you tell me about your interest in this %s position and what makes you a good fit?", jobTitle)
}

// SkillFirstQuestion is the user turn that starts a role-specific skill dialogue.
func SkillFirstQuestion(roleLabel string) string {
	return fmt.Sprintf("The candidate is interviewing for %s. Ask the first interview question.", roleLabel)
}

// UserTurn wraps the candidate's utterance for the generator.
func UserTurn(text string) string {
	return fmt.Sprintf("User input: %s\nRespond to the user's input.", text)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func head(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
