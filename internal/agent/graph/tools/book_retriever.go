package tools

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/bookchat-core/server/internal/knowledge"
	"github.com/cloudwego/eino/schema"
)

const (
	// NoResultsContent is the tool content when the book matched nothing.
	NoResultsContent = "No relevant information found in the book for this query."

	indexMissingPrefix = "Error: Could not find or load the vector store for book_id"
)

// IndexMissingContent is the tool content when the book has no index.
func IndexMissingContent(bookID string) string {
	return fmt.Sprintf("%s '%s'.", indexMissingPrefix, bookID)
}

// IsRetrievalSentinel reports whether content is one of the retrieval "no data" sentinels.
func IsRetrievalSentinel(content string) bool {
	return content == NoResultsContent || strings.HasPrefix(content, indexMissingPrefix)
}

// BookRetrieverInfo describes the book search tool to the decision model. The
// book is taken from the conversation, so the only argument is the query.
func BookRetrieverInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: model.ToolBookRetriever,
		Desc: "Searches the book the user is chatting with and returns the most relevant passages " +
			"with their page numbers. Use this first for any question about the book's content or topics it may cover.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "A focused search query describing the information needed from the book.",
				Required: true,
			},
		}),
	}
}

// FormatPassages renders passages as tool content, one block per passage.
func FormatPassages(passages []knowledge.Passage) string {
	if len(passages) == 0 {
		return NoResultsContent
	}
	blocks := make([]string, len(passages))
	for i, p := range passages {
		page := "N/A"
		if p.Page != nil {
			page = strconv.Itoa(*p.Page)
		}
		blocks[i] = fmt.Sprintf("Source: %s, Page: %s\nContent: %s", p.SourceID, page, p.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// Catalog is the fixed set of tools the router may call.
func Catalog(webSearch *schema.ToolInfo) []*schema.ToolInfo {
	if webSearch == nil {
		webSearch = WebSearchInfo()
	}
	return []*schema.ToolInfo{BookRetrieverInfo(), webSearch}
}
