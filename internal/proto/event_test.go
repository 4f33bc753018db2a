package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKind_Families(t *testing.T) {
	cases := []struct {
		kind      EventKind
		file      bool
		dir       bool
		content   bool
		supported bool
	}{
		{FileCreate, true, false, true, true},
		{FileModify, true, false, true, true},
		{FileDelete, true, false, false, true},
		{FileMove, true, false, false, true},
		{FileUndoDelete, true, false, false, false},
		{DirectoryCreate, false, true, false, true},
		{DirectoryDelete, false, true, false, true},
		{DirectoryMove, false, true, false, true},
		{DirectoryUndoDelete, false, true, false, false},
		{Symlink, false, false, false, false},
		{EventKind(0), false, false, false, false},
	}
	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			assert.Equal(t, c.file, c.kind.IsFile())
			assert.Equal(t, c.dir, c.kind.IsDirectory())
			assert.Equal(t, c.content, c.kind.CarriesContent())
			assert.Equal(t, c.supported, c.kind.Supported())
		})
	}
}

func TestChangeEvent_Validate(t *testing.T) {
	require.NoError(t, NewFileCreate("a", 1).Validate())
	require.NoError(t, NewDirectoryMove("a", "b").Validate())
	require.NoError(t, ChangeEvent{Kind: Symlink}.Validate())

	require.ErrorIs(t, ChangeEvent{Kind: FileDelete}.Validate(), ErrInvalidEvent)
	require.ErrorIs(t, ChangeEvent{Kind: DirectoryMove, ToPath: "b"}.Validate(), ErrInvalidEvent)
	require.ErrorIs(t, ChangeEvent{Kind: EventKind(200), Path: "a"}.Validate(), ErrInvalidEvent)
}

func TestChangeEvent_Paths(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, NewFileMove("a", "b").Paths())
	assert.Equal(t, []string{"a"}, NewFileDelete("a").Paths())
	assert.Nil(t, ChangeEvent{Kind: Symlink}.Paths())
}
