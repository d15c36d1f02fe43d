// Package provider builds the chat endpoint named in the configuration.
package provider

import (
	"fmt"
	"strings"

	"github.com/dylangamachefl/portfolio-website-v3/chat"
	"github.com/dylangamachefl/portfolio-website-v3/config"
	"github.com/dylangamachefl/portfolio-website-v3/gemini"
	"github.com/dylangamachefl/portfolio-website-v3/openai"
	"github.com/dylangamachefl/portfolio-website-v3/profile"
)

func New(cfg config.Config, p profile.Profile) (chat.Endpoint, error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		return gemini.NewClient(gemini.Config{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			BaseURL: cfg.LLM.BaseURL,
			Timeout: cfg.RequestTimeout(),
		}), nil
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.RequestTimeout()), nil
	case config.ProviderMock:
		ep := chat.NewScriptedEndpoint()
		ep.Responder = OfflineResponder(p)
		return ep, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}

// OfflineResponder answers from the profile alone, for running without a model.
func OfflineResponder(p profile.Profile) func(string) string {
	return func(message string) string {
		q := strings.ToLower(message)
		if i := strings.LastIndex(q, "user question:"); i >= 0 {
			q = q[i:]
		}
		var b strings.Builder
		switch {
		case strings.Contains(q, "project"):
			fmt.Fprintf(&b, "Here are some of %s's projects:\n\n", p.Name)
			for _, pr := range p.Projects {
				fmt.Fprintf(&b, "- **%s**: %s\n", pr.Title, pr.Description)
			}
		case strings.Contains(q, "skill"):
			for _, s := range p.Skills {
				fmt.Fprintf(&b, "- **%s**: %s\n", s.Category, strings.Join(s.Items, ", "))
			}
		case strings.Contains(q, "experience"), strings.Contains(q, "work"):
			for _, e := range p.Experience {
				fmt.Fprintf(&b, "- **%s**, %s (%s)\n", e.Role, e.Company, e.Period)
			}
		default:
			fmt.Fprintf(&b, "%s is a %s. %s", p.Name, p.Role, p.Bio)
		}
		return strings.TrimRight(b.String(), "\n")
	}
}
