package rpc

// SubmitRequest is the request body for POST /submit.
type SubmitRequest struct {
	Source  string `json:"source"`
	Name    string `json:"name"`             // fragment path; required for the js format
	Format  string `json:"format,omitempty"` // "auto", "json" or "js"
	Content string `json:"content"`
}

// SubmitResponse is the response body for POST /submit.
// Entries counts merged implementors once live; while queued it counts the
// well-formed entries waiting to be merged.
type SubmitResponse struct {
	Format     string   `json:"format"`
	Traits     []string `json:"traits"`
	Entries    int      `json:"entries"`
	Duplicates int      `json:"duplicates"`
	Malformed  int      `json:"malformed"`
	Queued     bool     `json:"queued"` // the registry was still accumulating
	Journaled  bool     `json:"journaled"`
}

// FetchRequest is the request body for POST /fetch.
type FetchRequest struct {
	Sources []FetchSpec `json:"sources"`
}

// FetchSpec names a crate to pull implementors from. Without traits the
// crate's rustdoc JSON is used.
type FetchSpec struct {
	Crate   string   `json:"crate"`
	Version string   `json:"version,omitempty"`
	Traits  []string `json:"traits,omitempty"`
}

type FetchResult struct {
	Crate   string `json:"crate"`
	Version string `json:"version"`
	Traits  int    `json:"traits"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

// ProgressLine is a single line of NDJSON streamed from the fetch endpoint.
type ProgressLine struct {
	Type    string       `json:"type"` // "progress" or "result"
	Message string       `json:"message,omitempty"`
	Result  *FetchResult `json:"result,omitempty"`
}

// QueryRequest is the request body for POST /query.
type QueryRequest struct {
	Trait string `json:"trait"`
}

// QueryResponse is the response body for POST /query. Entries is empty, not
// an error, for unknown traits.
type QueryResponse struct {
	Trait   string  `json:"trait"`
	Phase   string  `json:"phase"`
	Entries []Entry `json:"entries"`
}

type Entry struct {
	Label     string `json:"label"`
	Text      string `json:"text"`
	Identity  string `json:"identity"`
	Path      string `json:"path"`
	Generics  string `json:"generics,omitempty"`
	TraitArgs string `json:"trait_args,omitempty"`
	Crate     string `json:"crate,omitempty"`
}

// RenderRequest is the request body for POST /render.
type RenderRequest struct {
	Trait string `json:"trait"`
	HTML  bool   `json:"html,omitempty"`
}

// RenderResponse is the response body for POST /render.
type RenderResponse struct {
	Content  string `json:"content"`
	Rendered bool   `json:"rendered"`
}

// TraitsResponse is the response body for GET /traits.
type TraitsResponse struct {
	Traits []TraitSummary `json:"traits"`
}

type TraitSummary struct {
	Trait        string `json:"trait"`
	Implementors int    `json:"implementors"`
}

// ClearCacheRequest is the request body for POST /clear-cache.
type ClearCacheRequest struct {
	Journal bool `json:"journal,omitempty"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Phase           string        `json:"phase"`
	Pending         int           `json:"pending"`
	Payloads        int           `json:"payloads"`
	Accepted        int           `json:"accepted"`
	Duplicates      int           `json:"duplicates"`
	Malformed       int           `json:"malformed"`
	Traits          int           `json:"traits"`
	Journal         int           `json:"journal"`
	RendererUpdates uint64        `json:"renderer_updates"`
	Crates          []CrateStatus `json:"crates"`
}

type CrateStatus struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Fetched bool   `json:"fetched"`
}
