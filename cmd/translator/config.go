package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MegaGrindStone/maya-chat/internal/services"
	"github.com/MegaGrindStone/maya-chat/internal/translator"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(ctx context.Context, systemPrompt string, params services.LLMParameters, logger *slog.Logger) (translator.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port         string
	SystemPrompt string
	StorePath    string
	LogLevel     string
	Parameters   services.LLMParameters
	LLM          llmConfig
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	MaxTokens     int    `yaml:"maxTokens"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

type geminiConfig struct {
	BaseLLMConfig   `yaml:",inline"`
	APIKey          string   `yaml:"apiKey"`
	Documents       []string `yaml:"documents"`
	DocumentsPrompt string   `yaml:"documentsPrompt"`
}

const (
	defaultPort        = "8000"
	defaultProvider    = "gemini"
	defaultGeminiModel = "gemini-2.5-flash"
	defaultOllamaHost  = "http://localhost:11434"

	defaultTemperature = float32(0.2)

	defaultSystemPrompt = "Eres un asistente experto en traducción de idiomas, especialmente en el idioma maya. " +
		"Tu tarea es ayudar a los usuarios a traducir frases o palabras de cualquier idioma al maya de manera " +
		"precisa y culturalmente adecuada. Proporciona explicaciones breves sobre las traducciones cuando sea " +
		"relevante, incluyendo contexto cultural si es necesario. Mantén un tono amigable y accesible, adecuado " +
		"para todos los niveles de conocimiento del idioma maya. Utiliza la información de todos los documentos " +
		"de referencia adjuntos para mejorar la precisión de las traducciones; para el contexto y las sutilezas " +
		"culturales del idioma maya, utiliza el documento 'cordemex_diccionario_maya.pdf'. No solo traduzcas " +
		"literalmente. Si no estás seguro de una traducción, indícalo claramente en tu respuesta."

	defaultDocumentsPrompt = "Por favor, utiliza todos los diccionarios adjuntos como principal fuente de " +
		"referencia para todas las peticiones de traducción que se te hagan a partir de ahora."
)

var defaultDocuments = []string{
	filepath.Join("doc", "Diccionario_Maya_Espanol.pdf"),
	filepath.Join("doc", "cordemex_diccionario_maya.pdf"),
}

func defaultConfigPath() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "translator.yaml"
	}
	return filepath.Join(cfgDir, "mayachat", "translator.yaml")
}

// loadConfig reads the config file at path. A missing file is only an error when the path was
// given explicitly; otherwise the defaults are used.
func loadConfig(path string, explicit bool) (config, error) {
	cfg := config{}

	cfgFile, err := os.Open(path)
	switch {
	case err == nil:
		defer cfgFile.Close()
		if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
			if !errors.Is(err, io.EOF) {
				return config{}, fmt.Errorf("error decoding config file: %w", err)
			}
			cfg = defaultConfig()
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg = defaultConfig()
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	return cfg, nil
}

func defaultConfig() config {
	temperature := defaultTemperature
	return config{
		Port:         defaultPort,
		SystemPrompt: defaultSystemPrompt,
		Parameters:   services.LLMParameters{Temperature: &temperature},
		LLM: &geminiConfig{
			BaseLLMConfig: BaseLLMConfig{Provider: defaultProvider, Model: defaultGeminiModel},
			Documents:     defaultDocuments,
		},
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string                 `yaml:"port"`
		SystemPrompt string                 `yaml:"systemPrompt"`
		StorePath    string                 `yaml:"storePath"`
		LogLevel     string                 `yaml:"logLevel"`
		Parameters   services.LLMParameters `yaml:",inline"`
		LLM          map[string]any         `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	*c = defaultConfig()
	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.SystemPrompt != "" {
		c.SystemPrompt = rawConfig.SystemPrompt
	}
	if rawConfig.Parameters.Temperature != nil {
		c.Parameters.Temperature = rawConfig.Parameters.Temperature
	}
	c.Parameters.TopP = rawConfig.Parameters.TopP
	c.Parameters.Stop = rawConfig.Parameters.Stop
	c.StorePath = rawConfig.StorePath
	c.LogLevel = rawConfig.LogLevel

	if len(rawConfig.LLM) == 0 {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	case "gemini":
		llm = &geminiConfig{Documents: defaultDocuments}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func apiKey(configured, env string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(env)
}

func (o ollamaConfig) llm(
	_ context.Context,
	systemPrompt string,
	params services.LLMParameters,
	_ *slog.Logger,
) (translator.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	llm, err := services.NewOllama(host, o.Model, systemPrompt, params)
	if err != nil {
		return nil, err
	}
	return llm, nil
}

func (o openAIConfig) llm(
	_ context.Context,
	systemPrompt string,
	params services.LLMParameters,
	logger *slog.Logger,
) (translator.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	key := apiKey(o.APIKey, "OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	return services.NewOpenAI(key, o.BaseURL, o.Model, systemPrompt, params, logger), nil
}

func (a anthropicConfig) llm(
	_ context.Context,
	systemPrompt string,
	params services.LLMParameters,
	_ *slog.Logger,
) (translator.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required")
	}

	key := apiKey(a.APIKey, "ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	return services.NewAnthropic(key, a.Endpoint, a.Model, systemPrompt, a.MaxTokens, params), nil
}

func (o openRouterConfig) llm(
	_ context.Context,
	systemPrompt string,
	params services.LLMParameters,
	logger *slog.Logger,
) (translator.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	key := apiKey(o.APIKey, "OPENROUTER_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("openrouter api key is required")
	}
	return services.NewOpenRouter(key, o.Endpoint, o.Model, systemPrompt, params, logger), nil
}

func (g geminiConfig) llm(
	ctx context.Context,
	systemPrompt string,
	params services.LLMParameters,
	logger *slog.Logger,
) (translator.LLM, error) {
	model := g.Model
	if model == "" {
		model = defaultGeminiModel
	}

	key := apiKey(g.APIKey, "GEMINI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	prompt := g.DocumentsPrompt
	if prompt == "" {
		prompt = defaultDocumentsPrompt
	}
	llm, err := services.NewGemini(ctx, key, model, systemPrompt, params, services.GeminiDocuments{
		Paths:  g.Documents,
		Prompt: prompt,
	}, logger)
	if err != nil {
		return nil, err
	}
	return llm, nil
}
