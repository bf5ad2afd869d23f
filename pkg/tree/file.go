package tree

import (
	"sync"

	"github.com/sparkleshare/sparkleshare-go/internal/logging"
	"github.com/sparkleshare/sparkleshare-go/internal/metrics"
	"github.com/sparkleshare/sparkleshare-go/pkg/client"
	"github.com/sparkleshare/sparkleshare-go/pkg/models"
	"github.com/sparkleshare/sparkleshare-go/pkg/protocol"
)

// FileDelegate receives the outcome of content operations. Methods are
// called on a connection worker goroutine.
type FileDelegate interface {
	FileContentLoaded(f *File, content []byte)
	FileContentLoadingFailed(f *File, err error)
	FileContentSaved(f *File)
	FileContentSavingFailed(f *File, err error)
}

// File is a leaf of the tree with loadable content.
type File struct {
	Item

	mu       sync.RWMutex
	content  []byte
	fileSize int64
	delegate FileDelegate
	recorder RecentRecorder
}

// NewFile creates a file node listed in parent (which may be nil).
func NewFile(conn Requester, parent *Folder, info Info) *File {
	f := &File{fileSize: info.Size}
	f.init(conn, parent, info)
	if parent != nil {
		f.recorder = parent.recorderRef()
	}
	return f
}

func (f *File) Type() models.ItemType { return models.ItemFile }

// SetDelegate sets the receiver of content outcomes.
func (f *File) SetDelegate(d FileDelegate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delegate = d
}

// SetRecorder sets where successful loads and saves are recorded.
func (f *File) SetRecorder(r RecentRecorder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorder = r
}

// Content returns a copy of the last loaded or saved bytes, or nil if
// neither has succeeded yet.
func (f *File) Content() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.content == nil {
		return nil
	}
	return append([]byte(nil), f.content...)
}

// FileSize returns the size reported by the listing or the size of the
// cached content after a load or save.
func (f *File) FileSize() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fileSize
}

func (f *File) hooks() (FileDelegate, RecentRecorder) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.delegate, f.recorder
}

// replaceContent swaps the cached content wholesale.
func (f *File) replaceContent(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = data
	f.fileSize = int64(len(data))
}

// LoadContent fetches the file's bytes. On failure the cached content is
// left as it was.
func (f *File) LoadContent() {
	f.sendRawRequestWithMethod(protocol.MethodGetFile, f.url,
		func(res *client.Result) {
			data := append([]byte{}, res.Body...)
			f.replaceContent(data)
			metrics.RecordContentLoaded(len(data))
			f.record()
			if d, _ := f.hooks(); d != nil {
				d.FileContentLoaded(f, f.Content())
			}
		},
		func(res *client.Result, err error) {
			logging.Debug("file load failed", logging.String("ssid", f.ssid), logging.Err(err))
			if d, _ := f.hooks(); d != nil {
				d.FileContentLoadingFailed(f, err)
			}
		})
}

// SaveContent uploads text as the file's new content. The cached content
// only changes once the server acknowledges the save.
func (f *File) SaveContent(text string) {
	f.SendPostRequestWithMethodAndData(protocol.MethodPutFile, text,
		func(res *client.Result) {
			f.replaceContent([]byte(text))
			metrics.RecordContentSaved(len(text))
			f.record()
			if d, _ := f.hooks(); d != nil {
				d.FileContentSaved(f)
			}
		},
		func(res *client.Result, err error) {
			logging.Debug("file save failed", logging.String("ssid", f.ssid), logging.Err(err))
			if d, _ := f.hooks(); d != nil {
				d.FileContentSavingFailed(f, err)
			}
		})
}

// RecentFile snapshots the file for the recent files store. AccessDate is
// left zero so the store stamps it.
func (f *File) RecentFile() models.RecentFile {
	rf := models.RecentFile{
		FileName:       f.name,
		FileSSID:       f.ssid,
		FileURL:        f.url,
		FileMime:       f.mime,
		FileSize:       f.FileSize(),
		PathComponents: f.PathComponents(),
	}
	if p := f.project; p != nil {
		rf.ProjectFolderSSID = p.ssid
		rf.ProjectFolderName = p.name
	}
	return rf
}

func (f *File) record() {
	_, r := f.hooks()
	if r == nil {
		return
	}
	if err := r.AddRecentFile(f.RecentFile()); err != nil {
		logging.Warn("recording recent file failed", logging.String("ssid", f.ssid), logging.Err(err))
	}
}
