package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/maya-chat/internal/models"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini provides an implementation of the LLM interface backed by Google's Gemini models. Reference
// documents (the dictionaries the translations rely on) are uploaded once through the Gemini File
// API and attached to the first user turn of every conversation.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel

	documents       []genai.Part
	documentsPrompt string

	logger *slog.Logger
}

// GeminiDocuments describes the reference documents given to the model.
type GeminiDocuments struct {
	// Paths of the files to upload. Missing files are logged and skipped.
	Paths []string
	// Prompt is sent together with the documents, telling the model how to use them.
	Prompt string
}

const (
	geminiFilePollAttempts = 20
	geminiFilePollInterval = 2 * time.Second
)

// NewGemini creates a Gemini client for the given model, uploads the reference documents and waits
// until they are ready to be used.
func NewGemini(
	ctx context.Context,
	apiKey, model, systemPrompt string,
	params LLMParameters,
	docs GeminiDocuments,
	logger *slog.Logger,
) (Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return Gemini{}, fmt.Errorf("failed to create gemini client: %w", err)
	}

	m := client.GenerativeModel(model)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	if params.Temperature != nil {
		m.SetTemperature(*params.Temperature)
	}
	if params.TopP != nil {
		m.SetTopP(*params.TopP)
	}
	if len(params.Stop) > 0 {
		m.StopSequences = params.Stop
	}

	g := Gemini{
		client:          client,
		model:           m,
		documentsPrompt: docs.Prompt,
		logger:          logger.With(slog.String("module", "gemini")),
	}

	for _, path := range docs.Paths {
		part, err := g.upload(ctx, path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				g.logger.Warn("Reference document not found, skipping", slog.String("path", path))
				continue
			}
			_ = client.Close()
			return Gemini{}, err
		}
		g.documents = append(g.documents, part)
	}

	g.logger.Info("Gemini ready",
		slog.String("model", model),
		slog.Int("documents", len(g.documents)))

	return g, nil
}

func (g Gemini) upload(ctx context.Context, path string) (genai.Part, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	g.logger.Info("Uploading reference document", slog.String("path", path))

	file, err := g.client.UploadFile(ctx, "", f, &genai.UploadFileOptions{
		DisplayName: filepath.Base(path),
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload document %s: %w", path, err)
	}

	for range geminiFilePollAttempts {
		if file.State == genai.FileStateActive {
			g.logger.Info("Reference document uploaded",
				slog.String("path", path),
				slog.String("name", file.Name))
			return genai.FileData{MIMEType: file.MIMEType, URI: file.URI}, nil
		}
		if file.State == genai.FileStateFailed {
			return nil, fmt.Errorf("gemini failed to process document %s", path)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(geminiFilePollInterval):
		}

		file, err = g.client.GetFile(ctx, file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to get document status: %w", err)
		}
	}

	return nil, fmt.Errorf("document %s did not become active in time", path)
}

// Chat streams the reply of the model to the last message, with the earlier messages as history.
func (g Gemini) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		history := conversation(messages)
		if len(history) == 0 || history[len(history)-1].Role != models.RoleUser {
			yield("", errors.New("conversation must end with a user message"))
			return
		}

		contents := make([]*genai.Content, len(history))
		for i, msg := range history {
			role := "user"
			if msg.Role == models.RoleAssistant {
				role = "model"
			}
			contents[i] = &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Text)}}
		}
		if len(g.documents) > 0 {
			g.attachDocuments(contents)
		}

		cs := g.model.StartChat()
		cs.History = contents[:len(contents)-1]

		it := cs.SendMessageStream(ctx, contents[len(contents)-1].Parts...)
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if text := responseText(resp); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// attachDocuments prepends the reference documents to the first user turn.
func (g Gemini) attachDocuments(contents []*genai.Content) {
	for i, c := range contents {
		if c.Role != "user" {
			continue
		}
		parts := make([]genai.Part, 0, len(g.documents)+len(c.Parts)+1)
		parts = append(parts, g.documents...)
		if g.documentsPrompt != "" {
			parts = append(parts, genai.Text(g.documentsPrompt))
		}
		parts = append(parts, c.Parts...)
		contents[i] = &genai.Content{Role: c.Role, Parts: parts}
		return
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	var text string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}
	return text
}

// Close releases the underlying Gemini client.
func (g Gemini) Close() error {
	return g.client.Close()
}
