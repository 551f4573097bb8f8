package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultChatModel is used by the planner when none is configured.
const DefaultChatModel = openai.GPT4o

const plannerPrompt = `You are a planner for the Caldera adversary emulation platform. You are given a user request and you decide the steps needed to conduct an adversary emulation operation that fulfills it. Reply with a message that summarizes the planned operation.`

const plannerPromptWithCTI = `You are a planner for the Caldera adversary emulation platform enhanced with Cyber Threat Intelligence (CTI) data.
You also have CTI context describing attack patterns, malware, tools, threat actors and techniques.
Use the CTI context to plan realistic and comprehensive adversary emulation operations based on real-world threat intelligence, considering the techniques used by real threat actors.
Reply with a message that summarizes the planned operation, including how the CTI information influenced the plan.`

// ChatAPI is the subset of the go-openai client used by the planner.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// PlannerConfig configures the chat completion used for planning.
type PlannerConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Planner produces an operation plan from a task and optional CTI context.
type Planner struct {
	api ChatAPI
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewPlannerWithAPI(openai.NewClientWithConfig(clientCfg), cfg)
}

func NewPlannerWithAPI(api ChatAPI, cfg PlannerConfig) *Planner {
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	return &Planner{api: api, cfg: cfg}
}

// Plan runs a single completion. ctiContext may be empty.
func (p *Planner) Plan(ctx context.Context, task, ctiContext string) (string, error) {
	system := plannerPrompt
	user := "Adversary emulation task:\n" + task
	if strings.TrimSpace(ctiContext) != "" {
		system = plannerPromptWithCTI
		user += "\n\nCTI context:\n" + ctiContext
	}

	resp, err := p.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
