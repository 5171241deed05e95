package models

import "fmt"

// Provider identifies an external LLM backend. Identity only — capability
// (endpoint, model, rate limits) lives in configuration.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
	ProviderGemini Provider = "gemini"
	ProviderOllama Provider = "ollama"
)

// AllProviders is the closed enumeration of providers rigs knows about.
var AllProviders = []Provider{ProviderClaude, ProviderCodex, ProviderGemini, ProviderOllama}

func (p Provider) Valid() bool {
	for _, known := range AllProviders {
		if p == known {
			return true
		}
	}
	return false
}

// TaskType drives affinity scoring in Dispatch.
type TaskType string

const (
	TaskImplementation TaskType = "implementation"
	TaskReview         TaskType = "review"
	TaskResearch       TaskType = "research"
	TaskRefactor       TaskType = "refactor"
	TaskTest           TaskType = "test"
	TaskDocumentation  TaskType = "documentation"
	TaskDebug          TaskType = "debug"
	TaskDesign         TaskType = "design"
)

var AllTaskTypes = []TaskType{
	TaskImplementation, TaskReview, TaskResearch, TaskRefactor,
	TaskTest, TaskDocumentation, TaskDebug, TaskDesign,
}

// Priority is totally ordered: Low < Normal < High < Critical.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Strategy controls what "can admit" means in Dispatch (§4.3).
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyBalanced     Strategy = "balanced"
	StrategyAggressive   Strategy = "aggressive"
)
