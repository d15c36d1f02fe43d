// Package profile holds the portfolio owner's static profile and renders
// it into the instruction block that opens every assistant conversation.
package profile

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

type Project struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Link        string   `yaml:"link,omitempty"`
}

type SkillCategory struct {
	Category string   `yaml:"category"`
	Items    []string `yaml:"items"`
}

type Experience struct {
	Role       string   `yaml:"role"`
	Company    string   `yaml:"company"`
	Period     string   `yaml:"period"`
	Highlights []string `yaml:"highlights"`
}

type Education struct {
	Degree      string `yaml:"degree"`
	Institution string `yaml:"institution"`
	Period      string `yaml:"period"`
}

type Profile struct {
	Name       string          `yaml:"name"`
	Role       string          `yaml:"role"`
	Bio        string          `yaml:"bio"`
	Greeting   string          `yaml:"greeting"`
	Projects   []Project       `yaml:"projects"`
	Skills     []SkillCategory `yaml:"skills"`
	Experience []Experience    `yaml:"experience"`
	Education  []Education     `yaml:"education"`
	Interests  []string        `yaml:"interests"`
}

// Default returns the embedded profile.
func Default() Profile {
	p, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("profile: embedded default is invalid: %v", err))
	}
	return p
}

// Load reads a profile file. An empty path selects the embedded default.
func Load(path string) (Profile, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return Profile{}, fmt.Errorf("parse profile: name is required")
	}
	if p.Greeting == "" {
		p.Greeting = fmt.Sprintf("Hi! I'm %s's AI assistant. Ask me anything about their projects, skills, or experience.", firstName(p.Name))
	}
	return p, nil
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return name
}

// SystemContext renders the instruction block prepended to the first
// message of a conversation.
func (p Profile) SystemContext() string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "You are an AI assistant embedded in %s's portfolio website.\n", p.Name)
	if p.Role != "" {
		fmt.Fprintf(&b, "%s is a %s.\n", p.Name, p.Role)
	}
	if p.Bio != "" {
		fmt.Fprintf(&b, "About %s: %s\n", p.Name, strings.TrimSpace(p.Bio))
	}

	if len(p.Projects) > 0 {
		fmt.Fprintf(&b, "\nHere is a list of %s's projects that you can discuss:\n", p.Name)
		for _, pr := range p.Projects {
			fmt.Fprintf(&b, "- %s: %s (Tech: %s)\n", pr.Title, pr.Description, strings.Join(pr.Tags, ", "))
		}
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(&b, "\nHere are %s's technical skills:\n", p.Name)
		for _, s := range p.Skills {
			fmt.Fprintf(&b, "%s: %s\n", s.Category, strings.Join(s.Items, ", "))
		}
	}
	if len(p.Experience) > 0 {
		fmt.Fprintf(&b, "\nHere is %s's work experience:\n", p.Name)
		for _, e := range p.Experience {
			fmt.Fprintf(&b, "- %s at %s (%s)\n", e.Role, e.Company, e.Period)
			for _, h := range e.Highlights {
				fmt.Fprintf(&b, "  - %s\n", h)
			}
		}
	}
	if len(p.Education) > 0 {
		fmt.Fprintf(&b, "\nHere is %s's education:\n", p.Name)
		for _, e := range p.Education {
			fmt.Fprintf(&b, "- %s, %s (%s)\n", e.Degree, e.Institution, e.Period)
		}
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&b, "\nHere are %s's personal interests:\n%s\n", p.Name, strings.Join(p.Interests, ", "))
	}

	b.WriteString("\nYour primary goals are:\n")
	fmt.Fprintf(&b, "1. Represent %s professionally and answer questions about their work, skills, projects, and interests based STRICTLY on the information provided above.\n", p.Name)
	b.WriteString("2. If asked about something not in the provided information, politely state that you don't have that information.\n")
	b.WriteString("3. Keep responses concise, friendly, and helpful.\n")
	b.WriteString("4. Do not make up facts about projects that are not listed.\n")
	b.WriteString("5. **Format your responses using Markdown.** Use bold text for emphasis (e.g., project titles, key skills), bullet points for lists, and code blocks if sharing code snippets. This makes the text easier to read in a chat interface.\n")
	return b.String()
}
