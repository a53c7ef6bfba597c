// internal/models/agent.go
package models

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultSystemPrompt    = "You are a helpful AI assistant."
	DefaultTemperature     = 0.7
	DefaultHeaderColor     = "#3B82F6"
	DefaultAccentColor     = "#00D4FF"
	DefaultBackgroundColor = "#FFFFFF"
)

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Normalize applies the defaults and bounds every stored agent must satisfy.
// It fails only when the agent has no usable name.
func (a *Agent) Normalize() error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}

	a.WelcomeMessage = strings.TrimSpace(a.WelcomeMessage)
	if a.WelcomeMessage == "" {
		a.WelcomeMessage = fmt.Sprintf("👋 Hi there! I'm %s. How can I help you today?", a.Name)
	}

	a.SystemPrompt = strings.TrimSpace(a.SystemPrompt)
	if a.SystemPrompt == "" {
		a.SystemPrompt = DefaultSystemPrompt
	}

	a.Temperature = ClampTemperature(a.Temperature)
	a.HeaderColor = colorOr(a.HeaderColor, DefaultHeaderColor)
	a.AccentColor = colorOr(a.AccentColor, DefaultAccentColor)
	a.BackgroundColor = colorOr(a.BackgroundColor, DefaultBackgroundColor)
	a.ProfileImage = strings.TrimSpace(a.ProfileImage)
	return nil
}

// ClampTemperature bounds t to [0,1].
func ClampTemperature(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}

func colorOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if hexColor.MatchString(value) {
		return value
	}
	return fallback
}
