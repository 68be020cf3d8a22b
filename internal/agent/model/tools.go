package model

// Names of the callable tools in the router catalog. They double as the
// tool-call function names the decision model emits.
const (
	ToolBookRetriever = "book_retriever"
	ToolWebSearch     = "web_search"
)

// Route is the router's directive for the next step of a turn.
type Route string

const (
	RouteRetrieveBook Route = "retrieve_book"
	RouteWebSearch    Route = "web_search"
	RouteAnswer       Route = "answer"
)

func (r Route) String() string {
	return string(r)
}

// RouteForTool maps a catalog tool name to the route that executes it.
func RouteForTool(name string) (Route, bool) {
	switch name {
	case ToolBookRetriever:
		return RouteRetrieveBook, true
	case ToolWebSearch:
		return RouteWebSearch, true
	default:
		return "", false
	}
}
