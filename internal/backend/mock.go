package backend

import "github.com/aretw0/prdflow/pkg/domain"

// ClarifierQuestions is the fixed clarification round asked for every prompt.
var ClarifierQuestions = []string{
	"What is the main purpose of your app?",
	"Who is your target audience?",
	"What platforms do you want to support (iOS/Android)?",
	"What is your budget range?",
	"When do you need it completed?",
}

const (
	mockSummary = "A comprehensive fitness tracking application that helps users monitor workouts, " +
		"track nutrition, and share progress with their community. The app will feature personalized " +
		"recommendations, social challenges, and detailed analytics to keep users motivated."
	mockSpeech = "https://example.com/speech.mp3"
)

func productResult() map[string]any {
	return map[string]any{
		"product": map[string]any{
			"name": "Fitness Tracker Pro",
			"features": []any{
				"Workout tracking",
				"Progress analytics",
				"Social sharing",
				"Personalized recommendations",
				"Nutrition tracking",
			},
		},
		"diagram_url": "https://example.com/diagram.png",
	}
}

func customerResult() map[string]any {
	return map[string]any{
		"segment": "Health & Fitness Enthusiasts",
		"needs": []any{
			"Easy progress tracking",
			"Motivation through gamification",
			"Social features for accountability",
			"Personalized insights",
		},
	}
}

func engineerResult() map[string]any {
	return map[string]any{
		"feasibility": "High",
		"timeline":    "4-6 months",
		"tech_stack":  []any{"React Native", "Node.js", "MongoDB", "AWS"},
		"complexity":  "Medium",
	}
}

func riskResult() map[string]any {
	return map[string]any{
		"level": "Medium",
		"mitigations": []any{
			"Start with MVP to validate market fit",
			"Implement robust data privacy measures",
			"Plan for scalability from the beginning",
			"Regular security audits",
		},
		"concerns": []any{"Market competition", "User retention", "Data security"},
	}
}

// stageResult is one pipeline step and its canned output.
type stageResult struct {
	Stage string
	Data  map[string]any
}

func pipeline() []stageResult {
	return []stageResult{
		{domain.StageProduct, productResult()},
		{domain.StageCustomer, customerResult()},
		{domain.StageEngineer, engineerResult()},
		{domain.StageRisk, riskResult()},
	}
}

func clarifierData(c *domain.Conversation) map[string]any {
	resp := make([]any, 0, len(c.Questions))
	for _, q := range c.Questions {
		item := map[string]any{"question": q.Question, "answer": nil}
		if q.Answered {
			item["answer"] = q.Answer
		}
		resp = append(resp, item)
	}
	return map[string]any{"resp": resp, "done": c.Done}
}

// finalResult merges every stage output into the blob returned by
// get_result and appended after a stream.
func finalResult(c *domain.Conversation) map[string]any {
	out := map[string]any{"clarifier": clarifierData(c)}
	for _, s := range pipeline() {
		for k, v := range s.Data {
			out[k] = v
		}
	}
	out["summary"] = mockSummary
	out["tts_file"] = mockSpeech
	return out
}
