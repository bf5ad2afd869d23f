// Package tree models the remote folder tree of a dashboard: every node
// knows its identity and how to turn it into API requests, and leaves the
// execution of those requests to a Requester.
package tree

import (
	"net/url"
	"sync/atomic"

	"github.com/sparkleshare/sparkleshare-go/pkg/client"
	"github.com/sparkleshare/sparkleshare-go/pkg/models"
)

// Requester executes requests relative to {address}/api/. It is
// implemented by *client.Connection.
type Requester interface {
	SendRequest(path string, success client.SuccessFunc, failure client.FailureFunc)
	SendPostRequest(path, data string, success client.SuccessFunc, failure client.FailureFunc)
	SendRawRequest(path string, success client.SuccessFunc, failure client.FailureFunc)
}

// RecentRecorder receives files the user loaded or saved. It is
// implemented by *recent.Manager.
type RecentRecorder interface {
	AddRecentFile(entry models.RecentFile) error
}

// Node is a File or a Folder.
type Node interface {
	Name() string
	SSID() string
	Type() models.ItemType
	CompletelyLoaded() bool
}

// Info carries the identity of a node as listed by the server.
type Info struct {
	Name string
	SSID string
	URL  string
	Mime string
	Size int64
}

// Item is the identity shared by files and folders. Identity fields are
// fixed at construction. The parent and project references do not own
// their targets; the parent folder owns its children.
type Item struct {
	name string
	ssid string
	mime string
	url  string

	conn    Requester
	parent  *Folder
	project *Folder

	loaded atomic.Bool
}

// init fills i in place. Item holds an atomic flag and must not be copied.
func (i *Item) init(conn Requester, parent *Folder, info Info) {
	i.name = info.Name
	i.ssid = info.SSID
	i.mime = info.Mime
	i.url = info.URL
	i.conn = conn
	i.parent = parent
	if parent != nil {
		if parent.kind == models.ItemProject {
			i.project = parent
		} else {
			i.project = parent.project
		}
	}
}

func (i *Item) Name() string { return i.name }
func (i *Item) SSID() string { return i.ssid }
func (i *Item) Mime() string { return i.mime }
func (i *Item) URL() string  { return i.url }

// Parent returns the folder this item was listed in, or nil.
func (i *Item) Parent() *Folder { return i.parent }

// ProjectFolder returns the top-level project folder containing the item,
// or nil for project folders themselves and the root.
func (i *Item) ProjectFolder() *Folder { return i.project }

// Connection returns the requester the item sends through.
func (i *Item) Connection() Requester { return i.conn }

// CompletelyLoaded reports whether full metadata has been fetched.
func (i *Item) CompletelyLoaded() bool { return i.loaded.Load() }

func (i *Item) setCompletelyLoaded() { i.loaded.Store(true) }

// PathComponents returns the breadcrumb from the topmost non-root folder
// down to the item's parent.
func (i *Item) PathComponents() []models.PathComponent {
	var path []models.PathComponent
	for f := i.parent; f != nil && !f.root; f = f.parent {
		path = append(path, models.PathComponent{Name: f.name, SSID: f.ssid, Type: f.kind})
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}

func (i *Item) selfPath(method string) string {
	return method + "/" + url.PathEscape(i.ssid)
}

func withQuery(p, query string) string {
	if query == "" {
		return p
	}
	return p + "?" + query
}

// SendRequestWithSelfURLAndMethod issues GET {method}/{ssid}.
func (i *Item) SendRequestWithSelfURLAndMethod(method string, success client.SuccessFunc, failure client.FailureFunc) {
	i.conn.SendRequest(i.selfPath(method), success, failure)
}

// SendRequestWithMethod issues GET {method}/{ssid}?{path}. path is a
// preformatted query string and is sent verbatim.
func (i *Item) SendRequestWithMethod(method, path string, success client.SuccessFunc, failure client.FailureFunc) {
	i.conn.SendRequest(withQuery(i.selfPath(method), path), success, failure)
}

// SendPostRequestWithMethodAndData POSTs data to {method}/{ssid}.
func (i *Item) SendPostRequestWithMethodAndData(method, data string, success client.SuccessFunc, failure client.FailureFunc) {
	i.conn.SendPostRequest(i.selfPath(method), data, success, failure)
}

func (i *Item) sendRawRequestWithMethod(method, path string, success client.SuccessFunc, failure client.FailureFunc) {
	i.conn.SendRawRequest(withQuery(i.selfPath(method), path), success, failure)
}
