// Package agents picks a responder profile for an inbound message and drafts
// a reply in that profile's voice.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"ticketdesk/internal/llm"
)

const (
	selectTemperature = 0
	draftTemperature  = 0.7
)

// Apology is returned in place of a draft when the provider fails.
const Apology = "I apologize, but I'm unable to generate a response at the moment. Please try again later."

type Profile struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Skills      []string `json:"skills" yaml:"skills"`
}

// Registry is a fixed set of responder profiles plus the fallback default.
type Registry struct {
	profiles map[string]Profile
	order    []string
	fallback string
}

// NewRegistry builds a registry. The default must be one of the profiles.
func NewRegistry(defaultName string, profiles []Profile) (*Registry, error) {
	r := &Registry{profiles: map[string]Profile{}, fallback: defaultName}
	for _, p := range profiles {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("agent profile with empty name")
		}
		if _, dup := r.profiles[p.Name]; dup {
			return nil, fmt.Errorf("agent profile %s registered twice", p.Name)
		}
		r.profiles[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	if _, ok := r.profiles[defaultName]; !ok {
		return nil, fmt.Errorf("default agent %q is not a registered profile", defaultName)
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Profile, bool) {
	p, ok := r.profiles[name]
	return p, ok
}

func (r *Registry) Default() Profile { return r.profiles[r.fallback] }

// Profiles returns the registered profiles in registration order.
func (r *Registry) Profiles() []Profile {
	out := make([]Profile, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.profiles[name])
	}
	return out
}

// Service owns the completion client and the registry. Construct one per
// process at startup.
type Service struct {
	Registry  *Registry
	Completer llm.Completer
	Knowledge map[string]string
	Logger    *slog.Logger
}

// Select asks the provider for the best profile for query. Any failure or an
// unknown answer yields the default profile.
func (s *Service) Select(ctx context.Context, query string) Profile {
	listing, err := json.MarshalIndent(s.Registry.Profiles(), "", "  ")
	if err != nil {
		s.logger().Error("marshal agent registry", "error", err)
		return s.Registry.Default()
	}
	prompt := fmt.Sprintf(`Based on the following query, select the best agent:
Query: %s

Available agents:
%s

Respond only with the name of the most appropriate agent.`, query, listing)

	answer, err := s.Completer.Complete(ctx, llm.Request{Prompt: prompt, Temperature: selectTemperature})
	if err != nil {
		s.logger().Warn("agent selection failed, using default", "error", err)
		return s.Registry.Default()
	}
	if p, ok := s.Registry.Lookup(strings.TrimSpace(answer)); ok {
		s.logger().Debug("agent selected", "agent", p.Name)
		return p
	}
	s.logger().Debug("no matching agent, using default", "answer", answer)
	return s.Registry.Default()
}

// Draft writes a reply as profile p. It never fails; provider errors yield Apology.
func (s *Service) Draft(ctx context.Context, p Profile, subject, content string) string {
	prompt := fmt.Sprintf(`As a customer service representative, generate a professional
and empathetic response to the following email:

Business context: %s

Email subject: %s
Email content: %s

Instructions:
1. Maintain a professional and friendly tone
2. Address all points mentioned in the email
3. Provide clear and specific solutions
4. Include an appropriate greeting and formal closing
5. If follow-up is required, indicate it clearly

As a %s, generate a complete and helpful response.`, s.context(), subject, content, p.Description)

	out, err := s.Completer.Complete(ctx, llm.Request{Prompt: prompt, Temperature: draftTemperature})
	if err != nil {
		s.logger().Error("draft generation failed", "agent", p.Name, "error", err)
		return Apology
	}
	return out
}

// Reply selects a profile from the message content and drafts with it.
func (s *Service) Reply(ctx context.Context, subject, content string) (Profile, string) {
	p := s.Select(ctx, content)
	return p, s.Draft(ctx, p, subject, content)
}

func (s *Service) context() string {
	keys := make([]string, 0, len(s.Knowledge))
	for k := range s.Knowledge {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, s.Knowledge[k])
	}
	return strings.Join(parts, "\n")
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
