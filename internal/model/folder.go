package model

import (
	"fmt"
	"sort"
	"strings"
)

// SystemFolder marks the four folders with special move/copy defaults.
type SystemFolder string

const (
	SystemNone   SystemFolder = ""
	SystemInbox  SystemFolder = "inbox"
	SystemSent   SystemFolder = "sent"
	SystemDrafts SystemFolder = "drafts"
	SystemTrash  SystemFolder = "trash"
)

// SystemFolders lists the system folder kinds in creation order.
var SystemFolders = []SystemFolder{SystemInbox, SystemSent, SystemDrafts, SystemTrash}

// FolderState is either Connected or Disconnected.
type FolderState interface {
	isFolderState()
}

// Connected marks a folder mirrored to a remote folder. Epoch is the
// remote UIDVALIDITY last observed; zero means not yet observed.
type Connected struct {
	Epoch uint32
}

// Disconnected marks a local-only folder. LastEpoch is the epoch that was
// current when the folder was detached from its remote counterpart.
type Disconnected struct {
	LastEpoch uint32
}

func (Connected) isFolderState()    {}
func (Disconnected) isFolderState() {}

// Folder is one node of an account's folder tree. The parent link is an
// id only; children are owned by the parent.
type Folder struct {
	ID        int64
	AccountID string
	ParentID  *int64
	Name      string
	System    SystemFolder
	State     FolderState

	Children []*Folder
}

// IsRoot reports whether f is the unmirrored tree root.
func (f *Folder) IsRoot() bool {
	return f.ParentID == nil
}

// IsSystem reports whether f is one of the four system folders.
func (f *Folder) IsSystem() bool {
	return f.System != SystemNone
}

// Epoch returns the synchronization epoch and whether f is connected.
func (f *Folder) Epoch() (uint32, bool) {
	if c, ok := f.State.(Connected); ok {
		return c.Epoch, true
	}
	return 0, false
}

// IsConnected reports whether f mirrors a remote folder.
func (f *Folder) IsConnected() bool {
	_, ok := f.Epoch()
	return ok
}

// Child returns the direct child named name, or nil.
func (f *Folder) Child(name string) *Folder {
	for _, c := range f.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FolderTree is the in-memory mirror of an account's folder hierarchy.
type FolderTree struct {
	Root *Folder
	byID map[int64]*Folder
}

// BuildTree links flat folder rows into a tree. Exactly one row must
// have no parent.
func BuildTree(folders []Folder) (*FolderTree, error) {
	t := &FolderTree{byID: make(map[int64]*Folder, len(folders))}

	for i := range folders {
		f := folders[i]
		f.Children = nil
		t.byID[f.ID] = &f
	}

	for _, f := range t.byID {
		if f.ParentID == nil {
			if t.Root != nil {
				return nil, fmt.Errorf("account %s has more than one root folder", f.AccountID)
			}
			t.Root = f
			continue
		}
		parent, ok := t.byID[*f.ParentID]
		if !ok {
			return nil, fmt.Errorf("folder %d references missing parent %d", f.ID, *f.ParentID)
		}
		parent.Children = append(parent.Children, f)
	}

	if t.Root == nil {
		return nil, fmt.Errorf("folder tree has no root")
	}

	// Stable child order for listings.
	t.Walk(func(f *Folder) bool {
		sortFolders(f.Children)
		return true
	})

	return t, nil
}

// Find returns the folder with the given id, or nil.
func (t *FolderTree) Find(id int64) *Folder {
	return t.byID[id]
}

// Parent returns the parent of f, or nil for the root.
func (t *FolderTree) Parent(f *Folder) *Folder {
	if f.ParentID == nil {
		return nil
	}
	return t.byID[*f.ParentID]
}

// System returns the system folder of the given kind, or nil.
func (t *FolderTree) System(kind SystemFolder) *Folder {
	var found *Folder
	t.Walk(func(f *Folder) bool {
		if f.System == kind {
			found = f
			return false
		}
		return true
	})
	return found
}

// Path returns the remote name of f: the names from below the root down
// to f, joined with the remote hierarchy separator.
func (t *FolderTree) Path(f *Folder, sep string) string {
	var names []string
	for cur := f; cur != nil && !cur.IsRoot(); cur = t.Parent(cur) {
		names = append(names, cur.Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, sep)
}

// Add attaches f below its parent and indexes it.
func (t *FolderTree) Add(f *Folder) {
	t.byID[f.ID] = f
	if parent := t.Parent(f); parent != nil {
		parent.Children = append(parent.Children, f)
		sortFolders(parent.Children)
	}
}

// Remove detaches f and its subtree from the tree.
func (t *FolderTree) Remove(f *Folder) {
	if parent := t.Parent(f); parent != nil {
		for i, c := range parent.Children {
			if c == f {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
	}
	walk(f, func(n *Folder) bool {
		delete(t.byID, n.ID)
		return true
	})
}

// Subtree returns f and all of its descendants, parents first.
func (t *FolderTree) Subtree(f *Folder) []*Folder {
	var out []*Folder
	walk(f, func(n *Folder) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Walk visits every folder depth-first, parents before children, until
// fn returns false.
func (t *FolderTree) Walk(fn func(*Folder) bool) {
	walk(t.Root, fn)
}

func walk(f *Folder, fn func(*Folder) bool) bool {
	if !fn(f) {
		return false
	}
	for _, c := range f.Children {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func sortFolders(fs []*Folder) {
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })
}
