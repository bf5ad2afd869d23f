// Package models contains data types shared by the client packages.
package models

import (
	"slices"
	"time"
)

// ItemType identifies the kind of a remote tree node.
type ItemType string

const (
	ItemFile    ItemType = "file"
	ItemFolder  ItemType = "dir"
	ItemProject ItemType = "git" // top-level project folder
)

// PathComponent is one breadcrumb step from the root towards an item.
type PathComponent struct {
	Name string   `json:"name"`
	SSID string   `json:"ssid"`
	Type ItemType `json:"type"`
}

// RecentFile is a snapshot of a file the user opened or edited.
type RecentFile struct {
	FileName          string          `json:"file_name" validate:"required"`
	FileSSID          string          `json:"file_ssid" validate:"required"`
	FileURL           string          `json:"file_url,omitempty"`
	FileMime          string          `json:"file_mime,omitempty"`
	FileSize          int64           `json:"file_size" validate:"gte=0"`
	ProjectFolderSSID string          `json:"project_folder_ssid,omitempty"`
	ProjectFolderName string          `json:"project_folder_name,omitempty"`
	PathComponents    []PathComponent `json:"path_components,omitempty" validate:"dive"`
	AccessDate        time.Time       `json:"access_date"`
}

// SameLogicalPath reports whether r and other name the same file reached
// through the same breadcrumb.
func (r RecentFile) SameLogicalPath(other RecentFile) bool {
	return r.FileSSID == other.FileSSID &&
		slices.Equal(r.PathComponents, other.PathComponents)
}

// Clone returns a deep copy of r.
func (r RecentFile) Clone() RecentFile {
	r.PathComponents = slices.Clone(r.PathComponents)
	return r
}
