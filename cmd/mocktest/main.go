package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/chat"
	"github.com/dylangamachefl/portfolio-website-v3/profile"
	"github.com/dylangamachefl/portfolio-website-v3/retry"
	"github.com/dylangamachefl/portfolio-website-v3/service"
)

var overloaded = &chat.APIError{Code: 503, Status: "UNAVAILABLE", Message: "The model is overloaded. Please try again later."}

type scenario struct {
	name  string
	steps []chat.Step
	run   func(ctx context.Context, c *service.Conversation, ep *chat.ScriptedEndpoint) error
}

func scenarios() []scenario {
	return []scenario{
		{
			name:  "overloaded twice then answers",
			steps: []chat.Step{{Err: overloaded}, {Err: overloaded}, {Text: "Project A, Project B"}},
			run: func(ctx context.Context, c *service.Conversation, ep *chat.ScriptedEndpoint) error {
				r, err := c.Send(ctx, "What projects have you built?")
				if err != nil {
					return err
				}
				if r.Text != "Project A, Project B" {
					return fmt.Errorf("reply %q", r.Text)
				}
				if ep.Calls() != 3 {
					return fmt.Errorf("calls = %d, want 3", ep.Calls())
				}
				return nil
			},
		},
		{
			name:  "context only on first message",
			steps: []chat.Step{{Text: "one"}, {Text: "two"}},
			run: func(ctx context.Context, c *service.Conversation, ep *chat.ScriptedEndpoint) error {
				for _, q := range []string{"first", "second"} {
					if _, err := c.Send(ctx, q); err != nil {
						return err
					}
				}
				p := ep.Payloads()
				if !strings.HasSuffix(p[0], "User question: first") || p[1] != "second" {
					return fmt.Errorf("payloads %q", p)
				}
				return nil
			},
		},
		{
			name:  "overload exhausted shows notice",
			steps: []chat.Step{{Err: overloaded}, {Err: overloaded}, {Err: overloaded}, {Err: overloaded}},
			run: func(ctx context.Context, c *service.Conversation, _ *chat.ScriptedEndpoint) error {
				added, err := c.Stream(ctx, "hello", nil, nil)
				if err != nil {
					return err
				}
				if text := added[1].Text; !strings.Contains(text, "4 times") || !strings.Contains(text, "7s") {
					return fmt.Errorf("notice %q", text)
				}
				return nil
			},
		},
		{
			name:  "stream break keeps partial text",
			steps: []chat.Step{{Chunks: []string{"Project", " A"}, BreakErr: &chat.APIError{Code: 500, Message: "connection reset"}}},
			run: func(ctx context.Context, c *service.Conversation, _ *chat.ScriptedEndpoint) error {
				added, err := c.Stream(ctx, "projects?", nil, nil)
				if err != nil {
					return err
				}
				if len(added) != 3 || added[1].Text != "Project A" || added[2].Text != chat.PartialResponseNotice {
					return fmt.Errorf("messages %q", added)
				}
				return nil
			},
		},
	}
}

func main() {
	base := filepath.Join("output", "mock-run")
	p := retry.DefaultPolicy()
	p.Wait = func(context.Context, time.Duration) error { return nil }

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	failed := 0
	for _, sc := range scenarios() {
		ep := chat.NewScriptedEndpoint(sc.steps...)
		mgr := service.NewManager(ep, profile.Default()).WithPolicy(p).WithTranscriptDir(base)
		c, err := mgr.Start(ctx)
		if err == nil {
			err = sc.run(ctx, c, ep)
		}
		if err == nil {
			_, err = os.Stat(filepath.Join(base, "chats", c.ID+".log"))
		}
		if err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", sc.name, err)
			continue
		}
		fmt.Printf("ok   %s\n", sc.name)
	}
	if failed > 0 {
		os.Exit(1)
	}
	fmt.Println("transcripts written to", filepath.Join(base, "chats"))
}
