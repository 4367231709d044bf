package export

import (
	"time"

	"github.com/hyperjump/tabwise/internal/models"
)

// ChatContext is a project summary handed to a chat assistant.
type ChatContext struct {
	ProjectID       int64          `json:"project_id"`
	ProjectName     string         `json:"project_name"`
	Description     string         `json:"description,omitempty"`
	ResearchSummary []ResearchItem `json:"research_summary"`
}

// ResearchItem is one observation in a ChatContext.
type ResearchItem struct {
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildChatContext flattens a project's research into a ChatContext.
func BuildChatContext(research *models.ProjectResearch) *ChatContext {
	out := &ChatContext{ResearchSummary: make([]ResearchItem, 0, len(research.Observations))}
	if research.Project != nil {
		out.ProjectID = research.Project.ID
		out.ProjectName = research.Project.Name
		out.Description = research.Project.Description
	}
	for _, obs := range research.Observations {
		out.ResearchSummary = append(out.ResearchSummary, ResearchItem{
			Title:     obs.Title,
			URL:       obs.URL,
			Timestamp: obs.Timestamp,
		})
	}
	return out
}
