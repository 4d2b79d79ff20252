package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultAssistantName         = "FinanceAgent"
	DefaultAssistantInstructions = "You are financial analyst who helps individuals answer questions related to their financials."
	DefaultAssistantModel        = "gpt-4o-mini"
	DefaultAssistantTemperature  = 0.2
)

// Resolution decides whether a remote resource is created or resumed. The
// zero value creates.
type Resolution struct {
	id string
}

func CreateNew() Resolution {
	return Resolution{}
}

func Resume(id string) Resolution {
	return Resolution{id: id}
}

// resolutionFor maps the empty-string sentinel stored in state files onto
// the explicit decision.
func resolutionFor(id string) Resolution {
	if id == "" {
		return CreateNew()
	}
	return Resume(id)
}

func (r Resolution) IsResume() bool {
	return r.id != ""
}

func (r Resolution) ID() string {
	return r.id
}

func (r Resolution) String() string {
	if r.IsResume() {
		return "resume(" + r.id + ")"
	}
	return "create"
}

// AssistantConfig is the fixed configuration used when a new assistant is
// created.
type AssistantConfig struct {
	Name         string
	Instructions string
	Model        string
	Tools        []Tool
	Temperature  float64
}

func DefaultAssistantConfig() AssistantConfig {
	return AssistantConfig{
		Name:         DefaultAssistantName,
		Instructions: DefaultAssistantInstructions,
		Model:        DefaultAssistantModel,
		Tools:        []Tool{{Type: "file_search"}},
		Temperature:  DefaultAssistantTemperature,
	}
}

// assistantConfigFromConfig overlays the optional assistant settings of a
// loaded Config on the defaults.
func assistantConfigFromConfig(config Config) AssistantConfig {
	cfg := DefaultAssistantConfig()
	if config.AssistantName != "" {
		cfg.Name = config.AssistantName
	}
	if config.AssistantInstructions != "" {
		cfg.Instructions = config.AssistantInstructions
	}
	if config.ModelVersion != "" {
		cfg.Model = config.ModelVersion
	}
	if config.Temperature > 0 {
		cfg.Temperature = config.Temperature
	}
	return cfg
}

func (cfg AssistantConfig) request() AssistantRequest {
	tools := cfg.Tools
	if tools == nil {
		tools = []Tool{}
	}
	return AssistantRequest{
		Name:         cfg.Name,
		Instructions: cfg.Instructions,
		Model:        cfg.Model,
		Tools:        tools,
		Temperature:  cfg.Temperature,
	}
}

// AssistantCreator creates or retrieves the remote assistant a session works
// with.
type AssistantCreator struct {
	service ChatGPTService
	config  AssistantConfig
}

func NewAssistantCreator(service ChatGPTService, config AssistantConfig) *AssistantCreator {
	return &AssistantCreator{
		service: service,
		config:  config,
	}
}

// Resolve retrieves the assistant named by res, or creates one from the
// creator's configuration. Remote errors are returned unchanged apart from
// wrapping; an unknown id yields a not_found ChatGPTError.
func (c *AssistantCreator) Resolve(ctx context.Context, res Resolution) (Assistant, error) {
	if res.IsResume() {
		log.WithField("assistant_id", res.ID()).Info("retrieving assistant")
		assistant, err := c.service.GetAssistant(ctx, res.ID())
		if err != nil {
			log.WithField("assistant_id", res.ID()).WithError(err).Error("error retrieving assistant")
			return assistant, fmt.Errorf("retrieving assistant %s: %w", res.ID(), err)
		}
		return assistant, nil
	}

	log.WithFields(log.Fields{
		"name":  c.config.Name,
		"model": c.config.Model,
	}).Info("creating assistant")

	assistant, err := c.service.CreateAssistant(ctx, c.config.request())
	if err != nil {
		log.WithError(err).Error("error creating assistant")
		return assistant, fmt.Errorf("creating assistant: %w", err)
	}
	log.WithField("assistant_id", assistant.Id).Info("created assistant")
	return assistant, nil
}
