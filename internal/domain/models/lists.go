package models

// ListName identifies one of the two indicator lists
type ListName string

const (
	ListWhitelist ListName = "whitelist"
	ListBlacklist ListName = "blacklist"
)

// ParseListName validates a list name from a request path
func ParseListName(s string) (ListName, bool) {
	switch ListName(s) {
	case ListWhitelist, ListBlacklist:
		return ListName(s), true
	default:
		return "", false
	}
}

// ThreatLists is a point-in-time view of both lists
type ThreatLists struct {
	Whitelist []string `json:"whitelist"`
	Blacklist []string `json:"blacklist"`
}

// ListAddRequest is the body of a single-indicator list mutation
type ListAddRequest struct {
	Indicator string `json:"indicator" validate:"required,max=500"`
}

// ListImportRequest is the body of a bulk import
type ListImportRequest struct {
	Indicators []string `json:"indicators" validate:"required,min=1,max=1000,dive,required,max=500"`
}

// ListMutationResult is returned by list mutation endpoints
type ListMutationResult struct {
	List      ListName `json:"list"`
	Indicator string   `json:"indicator,omitempty"`
	Added     int      `json:"added"`
	Skipped   int      `json:"skipped,omitempty"`
	Size      int      `json:"size"`
}
