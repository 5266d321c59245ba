package domain

import "time"

// Conversation is the backend-side record of one clarification thread.
type Conversation struct {
	ID        string         `json:"id"`
	Input     string         `json:"input"`
	Questions []QA           `json:"questions"`
	Done      bool           `json:"done"`
	Round     int            `json:"round"`
	Started   time.Time      `json:"started"`
	Result    map[string]any `json:"result,omitempty"`
}

// Pending returns the number of unanswered questions.
func (c *Conversation) Pending() int {
	n := 0
	for _, q := range c.Questions {
		if q.Pending() {
			n++
		}
	}
	return n
}

// Fill pairs answers with unanswered questions in order and marks the
// conversation done once none remain. Surplus answers are ignored.
// It returns how many answers were consumed.
func (c *Conversation) Fill(answers []string) int {
	used := 0
	for i := range c.Questions {
		if used >= len(answers) {
			break
		}
		if c.Questions[i].Answered {
			continue
		}
		c.Questions[i].Answer = answers[used]
		c.Questions[i].Answered = true
		used++
	}
	c.Round++
	c.Done = c.Pending() == 0
	return used
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Questions = append([]QA(nil), c.Questions...)
	out.Result = clonePayload(c.Result)
	return &out
}
