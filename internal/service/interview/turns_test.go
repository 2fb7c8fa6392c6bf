package interview

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/ai"
	"github.com/zhouzirui/z-interview/backend/internal/service/skills"
)

func TestMatchRole(t *testing.T) {
	cases := []struct {
		text    string
		skillID string
		ok      bool
	}{
		{"I'm interviewing for Backend", "backend-interview", true},
		{"back-end please", "backend-interview", true},
		{"Software Engineer", "backend-interview", true},
		{"ML/AI", "ml-ai-interview", true},
		{"machine learning engineer", "ml-ai-interview", true},
		{"AI Infrastructure", "ai-infra-interview", true},
		// 规则顺序优先：infra 先于 devops
		{"infra devops", "ai-infra-interview", true},
		{"Full-Stack developer", "fullstack-interview", true},
		{"front end", "frontend-interview", true},
		{"Site Reliability", "devops-interview", true},
		{"product manager", "product-interview", true},
		{"SRE!", "devops-interview", true},
		// 整词匹配：html 不含 ml，swept 不含 swe
		{"I write html", "", false},
		{"swept away", "", false},
		{"", "", false},
		{"something else", "", false},
	}

	for _, tc := range cases {
		role, ok := MatchRole(tc.text)
		if ok != tc.ok || role.SkillID != tc.skillID {
			t.Fatalf("MatchRole(%q) = %+v, %v; want %s, %v", tc.text, role, ok, tc.skillID, tc.ok)
		}
	}
}

func TestTurnCounterTerminatesAtMaxTurns(t *testing.T) {
	gen := &fakeGenerator{}
	turns := NewTurns(gen, nil, TurnOptions{MaxTurns: 7, MaxQuestions: 5})
	st := &State{Room: "r1", Participant: "Alice"}
	ctx := context.Background()

	for n := 1; n < 7; n++ {
		reply, err := turns.Next(ctx, st, "answer", nil)
		if err != nil {
			t.Fatalf("turn %d err: %v", n, err)
		}
		if st.TurnCount != n {
			t.Fatalf("turn %d: TurnCount=%d", n, st.TurnCount)
		}
		if reply.Text == FinishMessage || st.Phase == PhaseFinished {
			t.Fatalf("turn %d terminated early", n)
		}
	}

	for n := 7; n <= 9; n++ {
		reply, err := turns.Next(ctx, st, "answer", nil)
		if err != nil {
			t.Fatalf("turn %d err: %v", n, err)
		}
		if reply.Text != FinishMessage || reply.Kind != ReplyFinished {
			t.Fatalf("turn %d: expected finish message, got %+v", n, reply)
		}
		if st.Phase != PhaseFinished {
			t.Fatalf("turn %d: phase=%s", n, st.Phase)
		}
	}

	if len(gen.Requests()) != 6 {
		t.Fatalf("expected 6 generator calls, got %d", len(gen.Requests()))
	}
}

func TestGreetingThenNumberedQuestions(t *testing.T) {
	gen := &fakeGenerator{}
	turns := NewTurns(gen, nil, TurnOptions{})
	st := &State{Room: "r1", Participant: "Alice"}
	ctx := context.Background()

	reply, err := turns.Next(ctx, st, "hi", nil)
	if err != nil {
		t.Fatalf("greeting err: %v", err)
	}
	if reply.Kind != ReplyGreeting || st.Phase != PhaseGreeted || st.QuestionCount != 1 {
		t.Fatalf("unexpected greeting state: %+v phase=%s qc=%d", reply, st.Phase, st.QuestionCount)
	}

	for want := 2; want <= 3; want++ {
		reply, err = turns.Next(ctx, st, "answer", nil)
		if err != nil {
			t.Fatalf("question err: %v", err)
		}
		if reply.Kind != ReplyQuestion || st.QuestionCount != want || st.Phase != PhaseQuestioning {
			t.Fatalf("unexpected question state: %+v qc=%d phase=%s", reply, st.QuestionCount, st.Phase)
		}
	}

	reqs := gen.Requests()
	if reqs[0].SystemPrompt != ai.GreetingPrompt() {
		t.Fatalf("first call should use the greeting prompt")
	}
	if !strings.Contains(reqs[1].SystemPrompt, "question #2 of 5") || !strings.Contains(reqs[2].SystemPrompt, "question #3 of 5") {
		t.Fatalf("unexpected question prompts: %q / %q", reqs[1].SystemPrompt, reqs[2].SystemPrompt)
	}
	if reqs[1].UserText != ai.UserTurn("answer") || reqs[1].Temperature != ai.TemperatureQuestion {
		t.Fatalf("unexpected user turn: %+v", reqs[1])
	}
}

func TestGenerationFailureStillCountsTurn(t *testing.T) {
	gen := &fakeGenerator{reply: func(ai.GenerateRequest, int) (string, error) { return "", errGeneratorDown }}
	turns := NewTurns(gen, nil, TurnOptions{})
	st := &State{Room: "r1"}

	if _, err := turns.Next(context.Background(), st, "hi", nil); !errors.Is(err, errGeneratorDown) {
		t.Fatalf("expected generator error, got %v", err)
	}
	if st.TurnCount != 1 {
		t.Fatalf("failed turn must still be counted, got turn_count=%d", st.TurnCount)
	}
	if st.Phase != PhaseNotStarted || st.QuestionCount != 0 {
		t.Fatalf("phase and questions must roll back on failure: %+v", st)
	}
}

func TestFlakyGenerationStillFinishesOnSeventhUtterance(t *testing.T) {
	gen := &fakeGenerator{reply: func(_ ai.GenerateRequest, call int) (string, error) {
		if call == 2 {
			return "", errGeneratorDown
		}
		return "Next question.", nil
	}}
	turns := NewTurns(gen, nil, TurnOptions{MaxTurns: 7})
	st := &State{Room: "r1"}
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		_, err := turns.Next(ctx, st, "answer", nil)
		if i == 3 {
			if !errors.Is(err, errGeneratorDown) {
				t.Fatalf("utterance %d: expected generator error, got %v", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("utterance %d: unexpected error %v", i, err)
		}
	}
	if st.TurnCount != 6 || st.QuestionCount != 5 {
		t.Fatalf("unexpected state after 6 utterances: %+v", st)
	}

	reply, err := turns.Next(ctx, st, "answer", nil)
	if err != nil || reply.Text != FinishMessage || reply.Kind != ReplyFinished {
		t.Fatalf("expected finish on 7th utterance, got %+v err=%v", reply, err)
	}
	if st.Phase != PhaseFinished || st.TurnCount != 7 {
		t.Fatalf("unexpected final state: %+v", st)
	}
	if len(gen.Requests()) != 6 {
		t.Fatalf("finish must not call the generator, got %d calls", len(gen.Requests()))
	}
}

func TestSkillFlowDoesNotAdvanceQuestions(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Describe a service you scaled."}}
	source := fakeSkills{"backend-interview": &skills.Skill{ID: "backend-interview", Body: "BACKEND GUIDE"}}
	turns := NewTurns(gen, source, TurnOptions{UseSkills: true})
	st := &State{Room: "r1"}
	ctx := context.Background()

	reply, err := turns.Next(ctx, st, "hi", nil)
	if err != nil || reply.Text != rolePrompt || reply.Kind != ReplySkill {
		t.Fatalf("expected role prompt, got %+v err=%v", reply, err)
	}

	reply, err = turns.Next(ctx, st, "not sure yet", nil)
	if err != nil || reply.Text != roleReprompt {
		t.Fatalf("expected reprompt, got %+v err=%v", reply, err)
	}

	reply, err = turns.Next(ctx, st, "Back-end, please", nil)
	if err != nil {
		t.Fatalf("skill question err: %v", err)
	}
	if reply.Kind != ReplySkill || reply.Text != "Describe a service you scaled." {
		t.Fatalf("unexpected skill reply: %+v", reply)
	}
	if st.SkillID != "backend-interview" || st.RoleLabel != "Backend" {
		t.Fatalf("role not recorded: %+v", st)
	}
	if st.QuestionCount != 0 || st.Phase != PhaseNotStarted || st.TurnCount != 3 {
		t.Fatalf("skill flow advanced counters: qc=%d phase=%s turns=%d", st.QuestionCount, st.Phase, st.TurnCount)
	}

	reqs := gen.Requests()
	if len(reqs) != 1 || reqs[0].SystemPrompt != "BACKEND GUIDE" || reqs[0].UserText != ai.SkillFirstQuestion("Backend") {
		t.Fatalf("unexpected skill request: %+v", reqs)
	}

	if _, err := turns.Next(ctx, st, "I sharded postgres", nil); err != nil {
		t.Fatalf("follow-up err: %v", err)
	}
	if last := gen.Requests()[1]; last.UserText != "I sharded postgres" || last.SystemPrompt != "BACKEND GUIDE" {
		t.Fatalf("follow-up should go to the skill guide: %+v", last)
	}
}

func TestSkillFlowFallsBackWhenSkillMissing(t *testing.T) {
	gen := &fakeGenerator{}
	turns := NewTurns(gen, fakeSkills{}, TurnOptions{UseSkills: true})
	st := &State{Room: "r1", RolePrompted: true}

	reply, err := turns.Next(context.Background(), st, "devops", nil)
	if err != nil {
		t.Fatalf("Next err: %v", err)
	}
	if reply.Kind != ReplyGreeting || st.Phase != PhaseGreeted {
		t.Fatalf("expected fallback to the default greeting, got %+v phase=%s", reply, st.Phase)
	}
	if st.SkillID != "devops-interview" {
		t.Fatalf("expected selected skill to be kept, got %q", st.SkillID)
	}
}

func TestJobGreetingVariants(t *testing.T) {
	job := &interview.JobContext{Title: "Backend Engineer", Company: "Acme"}
	ctx := context.Background()

	t.Run("default question", func(t *testing.T) {
		turns := NewTurns(&fakeGenerator{}, nil, TurnOptions{})
		st := &State{Participant: "Alice", Context: &interview.Context{Job: job}, DefaultQuestion: "Why Acme?"}
		reply, err := turns.Next(ctx, st, "hi", nil)
		if err != nil {
			t.Fatalf("Next err: %v", err)
		}
		want := "Hello Alice, welcome to your interview for the Backend Engineer position at Acme. Let's get started. Why Acme?"
		if reply.Text != want || st.QuestionCount != 1 || st.Phase != PhaseGreeted {
			t.Fatalf("unexpected greeting %q qc=%d", reply.Text, st.QuestionCount)
		}
	})

	t.Run("introduce yourself", func(t *testing.T) {
		gen := &fakeGenerator{}
		turns := NewTurns(gen, nil, TurnOptions{})
		st := &State{Participant: "Alice", Context: &interview.Context{Job: job}}
		reply, _ := turns.Next(ctx, st, "hi", nil)
		if !strings.HasSuffix(reply.Text, "Please introduce yourself.") || len(gen.Requests()) != 0 {
			t.Fatalf("unexpected greeting %q", reply.Text)
		}
	})

	t.Run("jd match", func(t *testing.T) {
		gen := &fakeGenerator{replies: []string{"How did you apply Go at scale?"}}
		turns := NewTurns(gen, nil, TurnOptions{})
		st := &State{Participant: "Alice", Context: &interview.Context{Job: job, Resume: "Go, Kafka"}, SkillBody: "GUIDE", DefaultQuestion: "Why Acme?"}
		reply, _ := turns.Next(ctx, st, "hi", nil)
		if !strings.HasSuffix(reply.Text, "Let's get started. How did you apply Go at scale?") {
			t.Fatalf("unexpected greeting %q", reply.Text)
		}
		if gen.Requests()[0].Temperature != ai.TemperatureJDMatch {
			t.Fatalf("jd match should use its own temperature")
		}
	})

	t.Run("jd match failure uses default question", func(t *testing.T) {
		gen := &fakeGenerator{reply: func(ai.GenerateRequest, int) (string, error) { return "", errGeneratorDown }}
		turns := NewTurns(gen, nil, TurnOptions{})
		st := &State{Participant: "Alice", Context: &interview.Context{Job: job, Resume: "Go"}, SkillBody: "GUIDE", DefaultQuestion: "Why Acme?"}
		reply, err := turns.Next(ctx, st, "hi", nil)
		if err != nil {
			t.Fatalf("greeting must not fail: %v", err)
		}
		if !strings.HasSuffix(reply.Text, "Why Acme?") {
			t.Fatalf("unexpected greeting %q", reply.Text)
		}
	})
}

func TestDefaultQuestionFallsBack(t *testing.T) {
	ctx := context.Background()
	job := &interview.JobContext{Title: "SRE", Company: "Acme"}

	failing := NewTurns(&fakeGenerator{reply: func(ai.GenerateRequest, int) (string, error) { return "", errGeneratorDown }}, nil, TurnOptions{})
	st := &State{Context: &interview.Context{Job: job}}
	if got := failing.DefaultQuestion(ctx, st); got != ai.FallbackDefaultQuestion("SRE") {
		t.Fatalf("unexpected fallback question %q", got)
	}

	gen := &fakeGenerator{replies: []string{"What is your on-call philosophy?"}}
	turns := NewTurns(gen, nil, TurnOptions{})
	if got := turns.DefaultQuestion(ctx, st); got != "What is your on-call philosophy?" {
		t.Fatalf("unexpected generated question %q", got)
	}
	if gen.Requests()[0].Temperature != ai.TemperatureDefaultQuestion {
		t.Fatal("default question should use its own temperature")
	}
}
