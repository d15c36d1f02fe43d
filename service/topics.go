package service

import (
	"fmt"

	"github.com/dylangamachefl/portfolio-website-v3/profile"
)

// TopicsResponse feeds the suggestion chips shown above an empty chat.
type TopicsResponse struct {
	Projects  []string `json:"projects"`
	Skills    []string `json:"skills"`
	Questions []string `json:"questions"`
}

func GetTopics(p profile.Profile) TopicsResponse {
	var resp TopicsResponse
	for _, pr := range p.Projects {
		resp.Projects = append(resp.Projects, pr.Title)
	}
	for _, s := range p.Skills {
		resp.Skills = append(resp.Skills, s.Category)
	}
	resp.Questions = []string{
		"What projects have you built?",
		"What are your strongest skills?",
		"Tell me about your experience.",
	}
	if len(resp.Projects) > 0 {
		resp.Questions = append(resp.Questions, fmt.Sprintf("How did you build %s?", resp.Projects[0]))
	}
	return resp
}
