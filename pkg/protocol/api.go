// Package protocol defines the dashboard API request/response types.
package protocol

// API path prefix; requests go to {baseURL}/api/{method}/{ssid}.
const APIPrefix = "/api/"

// Request signing headers.
const (
	HeaderIdent = "X-SPARKLE-IDENT"
	HeaderAuth  = "X-SPARKLE-AUTH"
)

// Dashboard API methods used by the client.
const (
	MethodGetAuthCode       = "getAuthCode"
	MethodPing              = "ping"
	MethodGetFolderList     = "getFolderList"
	MethodGetFolderContent  = "getFolderContent"
	MethodGetFolderRevision = "getFolderRevision"
	MethodGetFile           = "getFile"
	MethodPutFile           = "putFile"
)

// LinkResponse is returned by GET /api/getAuthCode?code=...&name=...
type LinkResponse struct {
	Ident    string `json:"ident"`
	AuthCode string `json:"authCode"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// FolderEntry is one element of a folder listing as returned by
// getFolderList and getFolderContent.
type FolderEntry struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Type     string `json:"type"` // "git", "dir" or "file"
	URL      string `json:"url,omitempty"`
	Mime     string `json:"mime,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// PutFileResponse acknowledges a saved file.
type PutFileResponse struct {
	OK   bool  `json:"ok"`
	Size int64 `json:"size"`
}
