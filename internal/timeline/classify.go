package timeline

import "strings"

// ContextOther is the fallback category for events no keyword matches.
const ContextOther = "other"

// Category is one context bucket with its keyword list. Categories are
// ordered: earlier declarations win score ties.
type Category struct {
	Name     string
	Keywords []string
}

// DefaultCategories returns the built-in category set. Deployments
// override this through configuration.
func DefaultCategories() []Category {
	return []Category{
		{Name: "client_work", Keywords: []string{"client", "contract", "proposal", "invoice", "renewal", "onboarding"}},
		{Name: "team_management", Keywords: []string{"1:1", "one-on-one", "standup", "review", "hiring", "feedback", "team"}},
		{Name: "product", Keywords: []string{"roadmap", "launch", "spec", "design", "release", "feature", "bug"}},
		{Name: "operations", Keywords: []string{"budget", "planning", "expense", "legal", "report", "ops"}},
	}
}

// Classifier assigns a context category to event text by counting
// case-insensitive keyword hits.
type Classifier struct {
	categories []Category
}

// NewClassifier builds a classifier over the given ordered categories.
func NewClassifier(categories []Category) *Classifier {
	return &Classifier{categories: categories}
}

// Classify scores each category by substring keyword hits in text and
// returns the highest-scoring one. Ties resolve to the earliest
// declared category; zero hits yield ContextOther.
func (c *Classifier) Classify(text string) string {
	lower := strings.ToLower(text)

	best := ContextOther
	bestScore := 0
	for _, cat := range c.categories {
		score := 0
		for _, kw := range cat.Keywords {
			score += strings.Count(lower, strings.ToLower(kw))
		}
		if score > bestScore {
			best = cat.Name
			bestScore = score
		}
	}
	return best
}
