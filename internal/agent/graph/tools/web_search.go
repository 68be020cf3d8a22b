package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bookchat-core/server/internal/agent/graph/parsers"
	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const (
	WebSearchDescription = "A search engine. Use this to search the internet for real-time information, " +
		"such as weather, news, or current events, or for topics not found in the book."

	noWebResults = "No good Google Search Result was found"
)

// SerperSearch is the web search tool backed by the Serper Google Search API.
type SerperSearch struct {
	apiKey  string
	url     string
	country string
	locale  string
	num     int
	client  *http.Client
}

func NewSerperSearch(cfg model.WebSearchConfig) (*SerperSearch, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("serper api key is empty")
	}
	timeout := 15 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SERPER_TIMEOUT %q: %w", cfg.Timeout, err)
		}
		timeout = d
	}
	url := cfg.URL
	if url == "" {
		url = "https://google.serper.dev/search"
	}
	return &SerperSearch{
		apiKey:  cfg.APIKey,
		url:     url,
		country: cfg.Country,
		locale:  cfg.Locale,
		num:     cfg.Results,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *SerperSearch) Info(_ context.Context) (*schema.ToolInfo, error) {
	return WebSearchInfo(), nil
}

// WebSearchInfo is the routing contract of the web search tool.
func WebSearchInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: model.ToolWebSearch,
		Desc: WebSearchDescription,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The search query.",
				Required: true,
			},
		}),
	}
}

// InvokableRun sends every argument the router produced. "query" becomes Serper's "q";
// unset gl/hl/num fall back to configuration.
func (s *SerperSearch) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args, err := parsers.ParseToolArguments(argumentsInJSON)
	if err != nil {
		return "", err
	}
	body := make(map[string]any, len(args)+3)
	for k, v := range args {
		body[k] = v
	}
	if _, ok := body["q"]; !ok {
		q, err := args.Query()
		if err != nil {
			return "", err
		}
		body["q"] = q
		delete(body, "query")
	}
	setDefault(body, "gl", s.country)
	setDefault(body, "hl", s.locale)
	if s.num > 0 {
		setDefault(body, "num", s.num)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("serper request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read serper response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("serper returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw[:min(len(raw), 200)])))
	}

	var result serperResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode serper response: %w", err)
	}
	return result.synthesize(), nil
}

func setDefault(m map[string]any, key string, v any) {
	if _, ok := m[key]; ok {
		return
	}
	if s, ok := v.(string); ok && s == "" {
		return
	}
	m[key] = v
}

type serperResponse struct {
	AnswerBox *struct {
		Answer             string `json:"answer"`
		Snippet            string `json:"snippet"`
		SnippetHighlighted any    `json:"snippetHighlighted"`
	} `json:"answerBox"`
	KnowledgeGraph *struct {
		Title       string            `json:"title"`
		Type        string            `json:"type"`
		Description string            `json:"description"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"knowledgeGraph"`
	Organic []struct {
		Snippet    string            `json:"snippet"`
		Attributes map[string]string `json:"attributes"`
	} `json:"organic"`
}

// synthesize follows the usual answer box, then knowledge graph, then organic precedence.
func (r serperResponse) synthesize() string {
	if ab := r.AnswerBox; ab != nil {
		switch {
		case ab.Answer != "":
			return ab.Answer
		case ab.Snippet != "":
			return strings.ReplaceAll(ab.Snippet, "\n", " ")
		case ab.SnippetHighlighted != nil:
			return strings.TrimSpace(fmt.Sprint(ab.SnippetHighlighted))
		}
	}

	var snippets []string
	if kg := r.KnowledgeGraph; kg != nil {
		if kg.Type != "" {
			snippets = append(snippets, fmt.Sprintf("%s: %s.", kg.Title, kg.Type))
		}
		if kg.Description != "" {
			snippets = append(snippets, kg.Description)
		}
		for attr, value := range kg.Attributes {
			snippets = append(snippets, fmt.Sprintf("%s %s: %s.", kg.Title, attr, value))
		}
	}
	for _, o := range r.Organic {
		if o.Snippet != "" {
			snippets = append(snippets, o.Snippet)
		}
		for attr, value := range o.Attributes {
			snippets = append(snippets, fmt.Sprintf("%s: %s.", attr, value))
		}
	}
	if len(snippets) == 0 {
		return noWebResults
	}
	return strings.Join(snippets, " ")
}

var _ tool.InvokableTool = (*SerperSearch)(nil)
