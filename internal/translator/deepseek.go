package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Thunsis/epub-translater/internal/postprocess"
	"github.com/Thunsis/epub-translater/internal/terms"
)

const (
	// DefaultBaseURL is DeepSeek's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.deepseek.com/v1"
	DefaultModel   = "deepseek-chat"

	// Separator joins batch texts in one request and splits the response.
	Separator = "-----TRANSLATE_SEPARATOR-----"

	// Low temperature keeps translations consistent across batches.
	temperature = 0.3
	maxTokens   = 4096
)

// languageNames maps ISO codes to the language names the model prompt
// uses. Unknown codes pass through verbatim.
var languageNames = map[string]string{
	"auto":  "the detected language",
	"en":    "english",
	"zh-CN": "chinese",
	"zh-TW": "traditional chinese",
	"ja":    "japanese",
	"ko":    "korean",
	"fr":    "french",
	"de":    "german",
	"es":    "spanish",
	"it":    "italian",
	"pt":    "portuguese",
	"ru":    "russian",
	"ar":    "arabic",
	"hi":    "hindi",
	"uk":    "ukrainian",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// DeepSeek is the Service implementation for DeepSeek's chat API.
type DeepSeek struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

var _ Service = (*DeepSeek)(nil)

// NewDeepSeek builds a DeepSeek client. Empty config fields fall back to
// the package defaults; a nil logger means slog.Default().
func NewDeepSeek(cfg Config, logger *slog.Logger) *DeepSeek {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &DeepSeek{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}
}

func (d *DeepSeek) Name() string { return "deepseek" }

// TranslateBatch joins the batch texts with Separator, sends them in one
// chat completion, and splits the response on the same separator. When the
// model returns the wrong number of sections the missing ones are filled
// with their source texts rather than failing the whole batch.
func (d *DeepSeek) TranslateBatch(ctx context.Context, req Request) ([]string, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}

	system := translateSystemPrompt(req, len(req.Texts) > 1)
	user := strings.Join(req.Texts, "\n"+Separator+"\n")

	content, err := d.complete(ctx, system, user)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(content, Separator)
	if len(parts) != len(req.Texts) {
		d.logger.Warn("batch translation section count mismatch",
			"expected", len(req.Texts), "got", len(parts))
	}
	out := make([]string, len(req.Texts))
	for i := range out {
		if i < len(parts) {
			out[i] = postprocess.Clean(parts[i])
		}
		if out[i] == "" {
			out[i] = req.Texts[i]
		}
	}
	return out, nil
}

// ExtractTerms sends a document sample to the model and parses the JSON
// term list it returns. A response that is not valid JSON degrades to a
// regex scan for quoted terms — the original behavior this engine keeps.
func (d *DeepSeek) ExtractTerms(ctx context.Context, sample, domainHint string) ([]Candidate, error) {
	content, err := d.complete(ctx, extractSystemPrompt(domainHint), sample)
	if err != nil {
		return nil, err
	}
	return parseTermResponse(content), nil
}

func (d *DeepSeek) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return resp.Choices[0].Message.Content, nil
}

func translateSystemPrompt(req Request, isBatch bool) string {
	var sb strings.Builder

	src := languageName(req.SourceLang)
	dst := languageName(req.TargetLang)

	fmt.Fprintf(&sb, "You are a highly skilled translator from %s to %s specializing in technical and academic content. ", src, dst)
	if isBatch {
		fmt.Fprintf(&sb, "Translate each section of text separated by '%s' into %s. ", Separator, dst)
	} else {
		fmt.Fprintf(&sb, "Translate the following text into %s. ", dst)
	}
	sb.WriteString("Preserve original formatting, maintain the original meaning, and ensure a natural and fluent translation. ")
	sb.WriteString(terms.InstructionHint())

	if len(req.Glossary) > 0 {
		sb.WriteString("\n\nTERMINOLOGY (use these exact translations):\n")
		pairs := make([]string, 0, len(req.Glossary))
		for srcTerm := range req.Glossary {
			pairs = append(pairs, srcTerm)
		}
		sort.Strings(pairs)
		for _, srcTerm := range pairs {
			fmt.Fprintf(&sb, "  %s → %s\n", srcTerm, req.Glossary[srcTerm])
		}
	}

	if isBatch {
		sb.WriteString("\n\nReply only with the translations, separated by the same separator marker.")
	} else {
		sb.WriteString("\n\nReply only with the translation, no explanations or additional text.")
	}
	return sb.String()
}

func extractSystemPrompt(domainHint string) string {
	var sb strings.Builder
	sb.WriteString("You are an expert terminology analyst specializing in technical and professional content. ")
	sb.WriteString("I will provide you with a sample of a book (table of contents, headings, and representative passages). ")
	sb.WriteString("Identify domain-specific terminology that should be preserved (not translated) during translation: ")
	sb.WriteString("technical terms, product names, programming languages, scientific concepts, industry standards, and specialized jargon.")
	if domainHint != "" {
		fmt.Fprintf(&sb, " The book's domain is: %s.", domainHint)
	}
	sb.WriteString("\n\nProvide your response as a JSON object with the following structure:\n")
	sb.WriteString(`{"terms": [{"term": "term1", "frequency": 3, "reason": "why it should be preserved"}, ...]}`)
	sb.WriteString("\n\nBe comprehensive: missed terms might be incorrectly translated.")
	return sb.String()
}

// termJSONRe pulls the outermost JSON object out of a response that wraps
// it in prose or a code fence.
var termJSONRe = regexp.MustCompile(`(?s)\{.*\}`)

// quotedTermRe is the fallback scan for `term: "..."` shapes when the
// response is not parseable JSON.
var quotedTermRe = regexp.MustCompile(`(?i)term["']?\s*[:=]\s*["']([^"']+)["']`)

func parseTermResponse(content string) []Candidate {
	var payload struct {
		Terms []struct {
			Term      string `json:"term"`
			Frequency int    `json:"frequency"`
			Preserve  *bool  `json:"preserve"`
			Reason    string `json:"reason"`
		} `json:"terms"`
	}

	raw := content
	if m := termJSONRe.FindString(content); m != "" {
		raw = m
	}

	if err := json.Unmarshal([]byte(raw), &payload); err == nil && len(payload.Terms) > 0 {
		var out []Candidate
		for _, t := range payload.Terms {
			surface := strings.TrimSpace(t.Term)
			if len(surface) < 2 {
				continue
			}
			if t.Preserve != nil && !*t.Preserve {
				continue
			}
			freq := t.Frequency
			if freq <= 0 {
				freq = 1
			}
			out = append(out, Candidate{Surface: surface, Frequency: freq, Reason: t.Reason})
		}
		return out
	}

	var out []Candidate
	for _, m := range quotedTermRe.FindAllStringSubmatch(content, -1) {
		surface := strings.TrimSpace(m[1])
		if len(surface) >= 2 {
			out = append(out, Candidate{Surface: surface, Frequency: 1})
		}
	}
	return out
}
