package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/chunker"
	"github.com/markdave123-py/documind/internal/models"
)

// NoContext is sent in place of excerpts when retrieval found nothing.
const NoContext = "No relevant context found in the document."

// DefaultPersona is the system instruction restricting answers to the supplied excerpts.
const DefaultPersona = `You are DocuMind, an assistant that answers questions about a single uploaded document.

Guidelines:
1. Answer only from the document excerpts provided in the message. Do not use outside knowledge.
2. If the excerpts do not contain the answer, say that the document does not cover it.
3. Cite page numbers when the excerpts carry them, for example "(Page 3)".
4. Be concise and accurate. Quote the document when exact wording matters.
5. If a question is ambiguous, say what the excerpts support and what they do not.`

type Options struct {
	MaxTokens     int
	Temperature   float64
	HistoryWindow int
	// MaxContextTokens caps the excerpt block; lower-ranked excerpts are dropped first.
	MaxContextTokens int
	Timeout          time.Duration
}

// Request is one grounded generation call.
type Request struct {
	Query        string
	DocumentName string
	Citations    []models.Citation
	History      []models.ChatTurn
	// Persona overrides DefaultPersona when set.
	Persona string
}

// Gateway builds grounded prompts and calls the LLM provider. It never retries.
type Gateway struct {
	provider core.LLMProvider
	opts     Options
}

func NewGateway(provider core.LLMProvider, opts Options) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm provider is nil")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.HistoryWindow < 0 {
		opts.HistoryWindow = 0
	}
	return &Gateway{provider: provider, opts: opts}, nil
}

func (g *Gateway) Generate(ctx context.Context, req Request) (string, error) {
	persona := req.Persona
	if persona == "" {
		persona = DefaultPersona
	}

	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	out, err := g.provider.Generate(cctx, core.GenerateRequest{
		System:      persona,
		History:     g.history(req.History),
		Prompt:      g.prompt(req),
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		return "", core.ProviderError(core.ErrGenerationProvider, "generate", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", core.ErrEmptyGeneration
	}
	return out, nil
}

// Ping runs a minimal generation to check the provider.
func (g *Gateway) Ping(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	_, err := g.provider.Generate(cctx, core.GenerateRequest{Prompt: "Reply with OK.", MaxTokens: 5})
	if err != nil {
		return core.ProviderError(core.ErrGenerationProvider, "ping", err)
	}
	return nil
}

// history keeps the most recent turns and normalises roles.
func (g *Gateway) history(turns []models.ChatTurn) []core.Message {
	if len(turns) > g.opts.HistoryWindow {
		turns = turns[len(turns)-g.opts.HistoryWindow:]
	}
	out := make([]core.Message, 0, len(turns))
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		role := "user"
		if strings.EqualFold(t.Role, "assistant") || strings.EqualFold(t.Role, "model") {
			role = "assistant"
		}
		out = append(out, core.Message{Role: role, Content: content})
	}
	return out
}

func (g *Gateway) prompt(req Request) string {
	return fmt.Sprintf("Context from document:\n%s\n\nUser question: %s\n\nAnswer using only the context above.",
		BuildContext(req.DocumentName, g.budget(req.Citations)), strings.TrimSpace(req.Query))
}

// budget drops the lowest-ranked citations until the excerpts fit MaxContextTokens.
// Citations arrive ordered by descending score.
func (g *Gateway) budget(cits []models.Citation) []models.Citation {
	if g.opts.MaxContextTokens <= 0 {
		return cits
	}
	used := 0
	for i, c := range cits {
		used += chunker.ApproxTokens(c.Content)
		if used > g.opts.MaxContextTokens {
			if i == 0 {
				// always keep the best excerpt
				return cits[:1]
			}
			return cits[:i]
		}
	}
	return cits
}

// BuildContext renders the excerpt block shown to the model.
func BuildContext(documentName string, cits []models.Citation) string {
	if len(cits) == 0 {
		return NoContext
	}
	var b strings.Builder
	if documentName != "" {
		fmt.Fprintf(&b, "Document: %s\n\n", documentName)
	}
	b.WriteString("Relevant excerpts from the document:\n")
	for i, c := range cits {
		b.WriteString("\n")
		if c.Page > 0 {
			fmt.Fprintf(&b, "--- Excerpt %d (Page %d) [Relevance: %.2f] ---\n", i+1, c.Page, c.Score)
		} else {
			fmt.Fprintf(&b, "--- Excerpt %d [Relevance: %.2f] ---\n", i+1, c.Score)
		}
		b.WriteString(strings.TrimSpace(c.Content))
		b.WriteString("\n")
	}
	return b.String()
}
