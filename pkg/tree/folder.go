package tree

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/pkg/client"
	"github.com/sparkleshare/sparkleshare-go/pkg/models"
	"github.com/sparkleshare/sparkleshare-go/pkg/protocol"
)

// FolderItemsDelegate receives the outcome of LoadItems.
type FolderItemsDelegate interface {
	FolderItemsLoaded(f *Folder, items []Node)
	FolderItemsLoadingFailed(f *Folder, err error)
}

// FolderInfoDelegate receives the outcome of LoadInfo.
type FolderInfoDelegate interface {
	FolderInfoLoaded(f *Folder)
	FolderInfoLoadingFailed(f *Folder, err error)
}

// Folder is a directory or project folder. The root folder lists the
// dashboard's projects.
type Folder struct {
	Item

	kind models.ItemType
	root bool

	mu            sync.RWMutex
	items         []Node
	revision      string
	itemsDelegate FolderItemsDelegate
	infoDelegate  FolderInfoDelegate
	recorder      RecentRecorder
}

// NewRootFolder creates the root of a dashboard tree.
func NewRootFolder(conn Requester, recorder RecentRecorder) *Folder {
	f := &Folder{kind: models.ItemFolder, root: true, recorder: recorder}
	f.init(conn, nil, Info{Name: "/"})
	return f
}

// NewFolder creates a folder listed in parent. kind is models.ItemFolder
// or models.ItemProject.
func NewFolder(conn Requester, parent *Folder, info Info, kind models.ItemType) *Folder {
	f := &Folder{kind: kind}
	f.init(conn, parent, info)
	if parent != nil {
		f.recorder = parent.recorderRef()
	}
	return f
}

func (f *Folder) Type() models.ItemType { return f.kind }

// IsRoot reports whether f is the dashboard root.
func (f *Folder) IsRoot() bool { return f.root }

// IsProject reports whether f is a top-level project folder.
func (f *Folder) IsProject() bool { return f.kind == models.ItemProject }

func (f *Folder) recorderRef() RecentRecorder {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.recorder
}

func (f *Folder) SetItemsDelegate(d FolderItemsDelegate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemsDelegate = d
}

func (f *Folder) SetInfoDelegate(d FolderInfoDelegate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoDelegate = d
}

// Items returns the children from the last successful LoadItems.
func (f *Folder) Items() []Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Node(nil), f.items...)
}

// Revision returns the revision from the last successful LoadInfo.
func (f *Folder) Revision() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.revision
}

// Child returns the direct child with the given ssid, or nil.
func (f *Folder) Child(ssid string) Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, n := range f.items {
		if n.SSID() == ssid {
			return n
		}
	}
	return nil
}

// LoadItems lists the folder and replaces its children.
func (f *Folder) LoadItems() {
	success := func(res *client.Result) {
		var entries []protocol.FolderEntry
		if err := res.Decode(&entries); err != nil {
			f.itemsFailed(&client.Error{
				Kind:    client.KindMalformedResponse,
				Op:      "list " + f.ssid,
				Message: "unexpected folder listing",
				Err:     err,
			})
			return
		}
		items := make([]Node, 0, len(entries))
		for _, e := range entries {
			items = append(items, f.newChild(e))
		}

		f.mu.Lock()
		f.items = items
		d := f.itemsDelegate
		f.mu.Unlock()
		if f.root {
			f.setCompletelyLoaded()
		}
		logging.Debug("folder listed", logging.String("ssid", f.ssid), logging.Int("items", len(items)))
		if d != nil {
			d.FolderItemsLoaded(f, append([]Node(nil), items...))
		}
	}
	failure := func(res *client.Result, err error) {
		f.itemsFailed(err)
	}

	switch {
	case f.root:
		f.conn.SendRequest(protocol.MethodGetFolderList, success, failure)
	default:
		f.SendRequestWithMethod(protocol.MethodGetFolderContent, f.url, success, failure)
	}
}

func (f *Folder) itemsFailed(err error) {
	f.mu.RLock()
	d := f.itemsDelegate
	f.mu.RUnlock()
	if d != nil {
		d.FolderItemsLoadingFailed(f, err)
	}
}

func (f *Folder) newChild(e protocol.FolderEntry) Node {
	info := Info{Name: e.Name, SSID: e.ID, URL: e.URL, Mime: e.Mime, Size: e.FileSize}
	switch models.ItemType(e.Type) {
	case models.ItemProject:
		return NewFolder(f.conn, f, info, models.ItemProject)
	case models.ItemFolder:
		return NewFolder(f.conn, f, info, models.ItemFolder)
	default:
		return NewFile(f.conn, f, info)
	}
}

// LoadInfo fetches the folder revision and marks the folder completely
// loaded. The root folder has no revision; it is loaded by LoadItems.
func (f *Folder) LoadInfo() {
	if f.root {
		f.infoFailed(fmt.Errorf("root folder has no revision"))
		return
	}
	f.SendRequestWithSelfURLAndMethod(protocol.MethodGetFolderRevision,
		func(res *client.Result) {
			var rev string
			if err := json.Unmarshal(res.Body, &rev); err != nil {
				f.infoFailed(&client.Error{
					Kind:    client.KindMalformedResponse,
					Op:      "revision " + f.ssid,
					Message: "revision is not a string",
					Err:     err,
				})
				return
			}
			f.mu.Lock()
			f.revision = rev
			d := f.infoDelegate
			f.mu.Unlock()
			f.setCompletelyLoaded()
			if d != nil {
				d.FolderInfoLoaded(f)
			}
		},
		func(res *client.Result, err error) {
			f.infoFailed(err)
		})
}

func (f *Folder) infoFailed(err error) {
	f.mu.RLock()
	d := f.infoDelegate
	f.mu.RUnlock()
	if d != nil {
		d.FolderInfoLoadingFailed(f, err)
	}
}

// FindBySSID searches the loaded subtree for a node (recursive).
func FindBySSID(root *Folder, ssid string) Node {
	if root == nil {
		return nil
	}
	for _, n := range root.Items() {
		if n.SSID() == ssid {
			return n
		}
		if sub, ok := n.(*Folder); ok {
			if found := FindBySSID(sub, ssid); found != nil {
				return found
			}
		}
	}
	return nil
}

// CountNodes counts the loaded nodes below root.
func CountNodes(root *Folder) int {
	if root == nil {
		return 0
	}
	count := 0
	for _, n := range root.Items() {
		count++
		if sub, ok := n.(*Folder); ok {
			count += CountNodes(sub)
		}
	}
	return count
}

// OpenRecent rebuilds the File a recent entry points to, with its folder
// chain recreated from the breadcrumb. Nothing is fetched; the folders
// are detached from root's loaded children.
func OpenRecent(root *Folder, rf models.RecentFile) *File {
	parent := root
	for _, pc := range rf.PathComponents {
		kind := pc.Type
		if kind != models.ItemProject {
			kind = models.ItemFolder
		}
		parent = NewFolder(root.conn, parent, Info{Name: pc.Name, SSID: pc.SSID}, kind)
	}
	return NewFile(root.conn, parent, Info{
		Name: rf.FileName,
		SSID: rf.FileSSID,
		URL:  rf.FileURL,
		Mime: rf.FileMime,
		Size: rf.FileSize,
	})
}
