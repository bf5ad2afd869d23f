package dashboard

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/sparkleshare/sparkleshare-go/pkg/models"
	"github.com/sparkleshare/sparkleshare-go/pkg/protocol"
)

// Content errors.
var (
	ErrNotFound   = errors.New("not found")
	ErrNotFolder  = errors.New("not a folder")
	ErrNotFile    = errors.New("not a file")
	ErrNoParent   = errors.New("parent must be a folder")
	ErrNameExists = errors.New("name already exists")
)

type node struct {
	id       string
	name     string
	kind     models.ItemType
	mime     string
	content  []byte
	parent   *node
	children []*node

	revision int // projects only
}

// relPath is the path of n inside its project.
func (n *node) relPath() string {
	var parts []string
	for cur := n; cur != nil && cur.kind != models.ItemProject; cur = cur.parent {
		parts = append([]string{cur.name}, parts...)
	}
	return path.Join(parts...)
}

func (n *node) project() *node {
	cur := n
	for cur != nil && cur.kind != models.ItemProject {
		cur = cur.parent
	}
	return cur
}

func (n *node) entry() protocol.FolderEntry {
	e := protocol.FolderEntry{Name: n.name, ID: n.id, Type: string(n.kind), Mime: n.mime}
	if n.kind != models.ItemProject {
		e.URL = "path=" + url.QueryEscape(n.relPath())
	}
	if n.kind == models.ItemFile {
		e.FileSize = int64(len(n.content))
	}
	return e
}

// Content is the in-memory folder tree served by the dashboard.
type Content struct {
	mu       sync.RWMutex
	projects []*node
	byID     map[string]*node
}

// NewContent creates an empty tree.
func NewContent() *Content {
	return &Content{byID: make(map[string]*node)}
}

// AddProject creates a top-level project folder. An empty id generates one.
func (c *Content) AddProject(id, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.projects {
		if p.name == name {
			return "", fmt.Errorf("project %q: %w", name, ErrNameExists)
		}
	}
	n, err := c.newNode(id, name, models.ItemProject)
	if err != nil {
		return "", err
	}
	c.projects = append(c.projects, n)
	return n.id, nil
}

// AddFolder creates a folder under parentID.
func (c *Content) AddFolder(parentID, id, name string) (string, error) {
	return c.addChild(parentID, id, name, models.ItemFolder, "", nil)
}

// AddFile creates a file under parentID. An empty mimeType is derived from
// the file extension.
func (c *Content) AddFile(parentID, id, name, mimeType string, data []byte) (string, error) {
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(name))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return c.addChild(parentID, id, name, models.ItemFile, mimeType, append([]byte(nil), data...))
}

func (c *Content) addChild(parentID, id, name string, kind models.ItemType, mimeType string, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parent, ok := c.byID[parentID]
	if !ok {
		return "", fmt.Errorf("parent %q: %w", parentID, ErrNotFound)
	}
	if parent.kind == models.ItemFile {
		return "", ErrNoParent
	}
	for _, ch := range parent.children {
		if ch.name == name {
			return "", fmt.Errorf("%q: %w", name, ErrNameExists)
		}
	}
	n, err := c.newNode(id, name, kind)
	if err != nil {
		return "", err
	}
	n.mime = mimeType
	n.content = data
	n.parent = parent
	parent.children = append(parent.children, n)
	if p := n.project(); p != nil {
		p.revision++
	}
	return n.id, nil
}

// newNode registers a node. Called with c.mu held.
func (c *Content) newNode(id, name string, kind models.ItemType) (*node, error) {
	if name == "" {
		return nil, errors.New("empty name")
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, dup := c.byID[id]; dup {
		return nil, fmt.Errorf("id %q already in use", id)
	}
	n := &node{id: id, name: name, kind: kind}
	c.byID[id] = n
	return n, nil
}

// Projects lists the top-level project folders.
func (c *Content) Projects() []protocol.FolderEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.FolderEntry, 0, len(c.projects))
	for _, p := range c.projects {
		out = append(out, p.entry())
	}
	return out
}

// List returns the children of a project or folder, folders first.
func (c *Content) List(id string) ([]protocol.FolderEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if n.kind == models.ItemFile {
		return nil, ErrNotFolder
	}
	children := append([]*node(nil), n.children...)
	sort.SliceStable(children, func(i, j int) bool {
		fi, fj := children[i].kind == models.ItemFile, children[j].kind == models.ItemFile
		if fi != fj {
			return !fi
		}
		return children[i].name < children[j].name
	})
	out := make([]protocol.FolderEntry, 0, len(children))
	for _, ch := range children {
		out = append(out, ch.entry())
	}
	return out, nil
}

// Revision returns the revision of the project containing id.
func (c *Content) Revision(id string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.byID[id]
	if !ok {
		return "", ErrNotFound
	}
	if n.kind == models.ItemFile {
		return "", ErrNotFolder
	}
	return "r" + strconv.Itoa(n.project().revision), nil
}

// File returns a copy of a file's content and its mime type.
func (c *Content) File(id string) ([]byte, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.byID[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	if n.kind != models.ItemFile {
		return nil, "", ErrNotFile
	}
	return append([]byte(nil), n.content...), n.mime, nil
}

// Put replaces a file's content and bumps its project revision.
func (c *Content) Put(id string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.byID[id]
	if !ok {
		return ErrNotFound
	}
	if n.kind != models.ItemFile {
		return ErrNotFile
	}
	n.content = append([]byte(nil), data...)
	if p := n.project(); p != nil {
		p.revision++
	}
	return nil
}
