package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameLogicalPath(t *testing.T) {
	base := RecentFile{
		FileSSID: "f42",
		PathComponents: []PathComponent{
			{Name: "notes", SSID: "p1", Type: ItemProject},
			{Name: "drafts", SSID: "d1", Type: ItemFolder},
		},
	}

	moved := base.Clone()
	moved.PathComponents[1] = PathComponent{Name: "archive", SSID: "d2", Type: ItemFolder}

	other := base.Clone()
	other.FileSSID = "f43"

	assert.True(t, base.SameLogicalPath(base.Clone()))
	assert.False(t, base.SameLogicalPath(moved))
	assert.False(t, base.SameLogicalPath(other))
	assert.True(t, RecentFile{FileSSID: "x"}.SameLogicalPath(RecentFile{FileSSID: "x", PathComponents: []PathComponent{}}))
}

func TestClone_Independent(t *testing.T) {
	orig := RecentFile{PathComponents: []PathComponent{{Name: "a"}}}
	c := orig.Clone()
	c.PathComponents[0].Name = "b"
	assert.Equal(t, "a", orig.PathComponents[0].Name)
}
