package mailsync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/remote"
	"github.com/nhle/mailsync/internal/store"
)

// Outcome is the result of a folder operation.
type Outcome struct {
	Folder  *model.Folder
	Message string
}

// InitAccount stores the account and rules and, on first use, creates
// the root folder and the four system folders. Sent, Drafts and Trash
// are created below the inbox. It does not contact the remote store.
func (e *Engine) InitAccount(ctx context.Context, account model.Account, rules []model.Rule) error {
	if account.ID == "" {
		return fmt.Errorf("account has no id: %w", ErrConfig)
	}
	if account.Store.Configured() {
		switch account.Store.Protocol {
		case model.ProtocolIMAP, model.ProtocolPOP3:
		default:
			return fmt.Errorf("account %s: unknown store protocol %q: %w",
				account.ID, account.Store.Protocol, ErrConfig)
		}
	}

	unlock := e.lockAccount(account.ID)
	defer unlock()

	if err := e.store.UpsertAccount(ctx, account); err != nil {
		return err
	}
	if err := e.store.ReplaceRules(ctx, account.ID, rules); err != nil {
		return err
	}

	folders, err := e.store.GetFolders(ctx, account.ID)
	if err != nil {
		return err
	}
	if len(folders) > 0 {
		return nil
	}

	rootID, err := e.store.CreateFolder(ctx, model.Folder{
		AccountID: account.ID,
		State:     model.Disconnected{},
	})
	if err != nil {
		return err
	}

	// Only the inbox is mirrored for a POP3 store.
	connected := func(kind model.SystemFolder) model.FolderState {
		switch {
		case !account.HasStore():
			return model.Disconnected{}
		case account.Store.Protocol == model.ProtocolPOP3 && kind != model.SystemInbox:
			return model.Disconnected{}
		}
		return model.Connected{}
	}

	inboxID, err := e.store.CreateFolder(ctx, model.Folder{
		AccountID: account.ID,
		ParentID:  &rootID,
		Name:      account.SystemFolderName(model.SystemInbox),
		System:    model.SystemInbox,
		State:     connected(model.SystemInbox),
	})
	if err != nil {
		return err
	}

	for _, kind := range model.SystemFolders[1:] {
		_, err := e.store.CreateFolder(ctx, model.Folder{
			AccountID: account.ID,
			ParentID:  &inboxID,
			Name:      account.SystemFolderName(kind),
			System:    kind,
			State:     connected(kind),
		})
		if err != nil {
			return err
		}
	}

	e.log.Info().Str("account", account.ID).Msg("Initialized account folders")
	return nil
}

// ListFolders returns the current folder tree of the account.
func (e *Engine) ListFolders(ctx context.Context, accountID string) (*model.FolderTree, error) {
	sc, err := e.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return sc.tree, nil
}

// Reconcile mirrors the remote folder hierarchy into the local tree and
// returns the number of folders created or dropped.
func (e *Engine) Reconcile(ctx context.Context, accountID string) (int, error) {
	sc, err := e.begin(ctx, accountID)
	if err != nil {
		return 0, err
	}
	defer sc.close()

	changes, err := sc.reconcile()
	if err != nil {
		return changes, err
	}
	sc.purge()
	return changes, nil
}

// remoteNode is one level of the remote hierarchy rebuilt from the flat
// LIST response.
type remoteNode struct {
	box      remote.Mailbox
	children map[string]*remoteNode
}

func buildRemoteTree(boxes []remote.Mailbox, sep string) *remoteNode {
	root := &remoteNode{children: make(map[string]*remoteNode)}
	for _, box := range boxes {
		delim := box.Delim
		if delim == "" {
			delim = sep
		}

		node := root
		for _, name := range strings.Split(box.Name, delim) {
			child, ok := node.children[name]
			if !ok {
				// Intermediate levels missing from LIST cannot be selected.
				child = &remoteNode{
					box:      remote.Mailbox{NoSelect: true},
					children: make(map[string]*remoteNode),
				}
				node.children[name] = child
			}
			node = child
		}
		node.box = box
	}
	return root
}

func (sc *syncContext) reconcile() (int, error) {
	conn, err := sc.remote()
	if err != nil {
		return 0, err
	}
	boxes, err := conn.List(sc.ctx)
	if err != nil {
		return 0, err
	}

	changes, err := sc.reconcileNode(sc.tree.Root, buildRemoteTree(boxes, sc.sep))
	if changes > 0 {
		sc.log.Info().Int("changes", changes).Msg("Reconciled folder tree")
	}
	return changes, err
}

// reconcileNode walks the remote and local children of one level in
// lock-step. Remote folders missing locally are created connected; local
// connected folders missing remotely are dropped unless they are system
// folders. Disconnected folders are never touched.
func (sc *syncContext) reconcileNode(local *model.Folder, rn *remoteNode) (int, error) {
	names := make([]string, 0, len(rn.children))
	for name := range rn.children {
		names = append(names, name)
	}
	sort.Strings(names)

	changes := 0
	for _, name := range names {
		child := rn.children[name]

		lc := local.Child(name)
		if lc == nil {
			f, err := sc.addFolder(local, name, model.Connected{}, model.SystemNone)
			if err != nil {
				return changes, err
			}
			sc.log.Debug().Str("folder", name).Msg("Discovered remote folder")
			lc = f
			changes++
		}

		if !lc.IsConnected() || child.box.NoInferiors {
			continue
		}
		n, err := sc.reconcileNode(lc, child)
		changes += n
		if err != nil {
			return changes, err
		}
	}

	stale := append([]*model.Folder(nil), local.Children...)
	for _, lc := range stale {
		if _, ok := rn.children[lc.Name]; ok {
			continue
		}
		if !lc.IsConnected() || lc.IsSystem() {
			continue
		}
		if err := sc.e.store.DeleteFolder(sc.ctx, lc.ID); err != nil {
			return changes, err
		}
		sc.tree.Remove(lc)
		sc.log.Debug().Str("folder", lc.Name).Msg("Dropped folder missing remotely")
		changes++
	}

	return changes, nil
}

func (sc *syncContext) addFolder(
	parent *model.Folder,
	name string,
	state model.FolderState,
	system model.SystemFolder,
) (*model.Folder, error) {
	parentID := parent.ID
	f := &model.Folder{
		AccountID: sc.account.ID,
		ParentID:  &parentID,
		Name:      name,
		System:    system,
		State:     state,
	}
	id, err := sc.e.store.CreateFolder(sc.ctx, *f)
	if err != nil {
		return nil, err
	}
	f.ID = id
	sc.tree.Add(f)
	return f, nil
}

// mirroredParent reports whether new children of p live remotely. The
// root is never mirrored itself, but its children are.
func (sc *syncContext) mirroredParent(p *model.Folder) bool {
	if p.IsRoot() {
		return sc.account.HasStore() && sc.account.Store.Protocol == model.ProtocolIMAP
	}
	return sc.mirrored(p)
}

func (sc *syncContext) childPath(parent *model.Folder, name string) string {
	if parent.IsRoot() {
		return name
	}
	return sc.path(parent) + sc.sep + name
}

func (sc *syncContext) validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("folder name is empty")
	}
	sep := sc.sep
	if sep == "" {
		sep = "/"
	}
	if strings.Contains(name, sep) {
		return fmt.Errorf("folder name %q contains the separator %q", name, sep)
	}
	return nil
}

// CreateFolder creates name below parentID. A remote folder of that name
// is reused when acceptExisting is set; otherwise it is a collision.
func (e *Engine) CreateFolder(
	ctx context.Context,
	accountID string,
	parentID int64,
	name string,
	acceptExisting bool,
) (*Outcome, error) {
	sc, err := e.begin(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer sc.close()

	parent := sc.tree.Find(parentID)
	if parent == nil {
		return nil, fmt.Errorf("parent folder %d in account %s: %w", parentID, accountID, store.ErrNotFound)
	}

	state := model.FolderState(model.Disconnected{})
	if sc.mirroredParent(parent) {
		if _, err := sc.remote(); err != nil {
			return nil, err
		}
		state = model.Connected{}
	}
	if err := sc.validName(name); err != nil {
		return nil, err
	}

	if existing := parent.Child(name); existing != nil {
		if acceptExisting {
			return &Outcome{Folder: existing, Message: fmt.Sprintf("Folder %q already exists", name)}, nil
		}
		return nil, fmt.Errorf("folder %q: %w", name, ErrFolderExists)
	}

	if sc.mirroredParent(parent) {
		path := sc.childPath(parent, name)
		exists, err := sc.remoteExists(path)
		if err != nil {
			return nil, err
		}
		switch {
		case exists && !acceptExisting:
			return nil, fmt.Errorf("remote folder %q: %w", path, ErrFolderExists)
		case !exists:
			if err := sc.conn.Create(sc.ctx, path); err != nil {
				return nil, err
			}
			if err := sc.conn.Subscribe(sc.ctx, path); err != nil {
				sc.log.Warn().Err(err).Str("folder", path).Msg("Subscribing to folder")
			}
		}
	}

	f, err := sc.addFolder(parent, name, state, model.SystemNone)
	if err != nil {
		return nil, err
	}
	sc.log.Info().Str("folder", name).Msg("Created folder")
	return &Outcome{Folder: f, Message: fmt.Sprintf("Folder %q created", name)}, nil
}

func (sc *syncContext) remoteExists(path string) (bool, error) {
	boxes, err := sc.conn.List(sc.ctx)
	if err != nil {
		return false, err
	}
	for _, b := range boxes {
		if b.Name == path {
			return true, nil
		}
	}
	return false, nil
}

// RenameFolder relabels a folder. For a mirrored folder the remote
// rename must succeed first; on failure nothing changes locally.
func (e *Engine) RenameFolder(
	ctx context.Context,
	accountID string,
	folderID int64,
	name string,
) (*Outcome, error) {
	sc, err := e.begin(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer sc.close()

	f, err := sc.folder(folderID)
	if err != nil {
		return nil, err
	}
	if f.IsRoot() || f.IsSystem() {
		return nil, fmt.Errorf("folder %q cannot be renamed", f.Name)
	}
	if f.Name == name {
		return &Outcome{Folder: f, Message: "Folder name unchanged"}, nil
	}

	if sc.mirrored(f) {
		if _, err := sc.remote(); err != nil {
			return nil, err
		}
	}
	if err := sc.validName(name); err != nil {
		return nil, err
	}
	parent := sc.tree.Parent(f)
	if parent.Child(name) != nil {
		return nil, fmt.Errorf("folder %q: %w", name, ErrFolderExists)
	}

	if sc.mirrored(f) {
		if err := sc.conn.Rename(sc.ctx, sc.path(f), sc.childPath(parent, name)); err != nil {
			return nil, err
		}
	}
	if err := e.store.RenameFolder(ctx, f.ID, name); err != nil {
		return nil, err
	}

	old := f.Name
	f.Name = name
	sc.log.Info().Str("from", old).Str("to", name).Msg("Renamed folder")
	return &Outcome{Folder: f, Message: fmt.Sprintf("Folder %q renamed to %q", old, name)}, nil
}

// DropFolder deletes a folder and its subtree, remotely first when
// mirrored, then locally together with every placement in it.
func (e *Engine) DropFolder(ctx context.Context, accountID string, folderID int64) (*Outcome, error) {
	sc, err := e.begin(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer sc.close()

	f, err := sc.folder(folderID)
	if err != nil {
		return nil, err
	}
	if f.IsRoot() || f.IsSystem() {
		return nil, fmt.Errorf("folder %q cannot be dropped", f.Name)
	}

	// Children before parents.
	subtree := sc.tree.Subtree(f)
	for i := len(subtree) - 1; i >= 0; i-- {
		n := subtree[i]
		if !sc.mirrored(n) {
			continue
		}
		if _, err := sc.remote(); err != nil {
			return nil, err
		}
		if err := sc.conn.Delete(sc.ctx, sc.path(n)); err != nil {
			return nil, err
		}
	}

	if err := e.store.DeleteFolder(ctx, f.ID); err != nil {
		return nil, err
	}
	sc.tree.Remove(f)
	sc.purge()

	sc.log.Info().Str("folder", f.Name).Msg("Dropped folder")
	return &Outcome{Message: fmt.Sprintf("Folder %q dropped", f.Name)}, nil
}

// DisconnectFolder stops mirroring a folder and its subtree without
// touching remote data. Remote numbers are cleared from placements and
// the last epoch is kept as a high-water mark.
func (e *Engine) DisconnectFolder(ctx context.Context, accountID string, folderID int64) (*Outcome, error) {
	sc, err := e.begin(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer sc.close()

	f, err := sc.folder(folderID)
	if err != nil {
		return nil, err
	}
	if !f.IsConnected() {
		return &Outcome{Folder: f, Message: fmt.Sprintf("Folder %q is already disconnected", f.Name)}, nil
	}

	var ids []int64
	for _, n := range sc.tree.Subtree(f) {
		if n.IsConnected() {
			ids = append(ids, n.ID)
		}
	}
	if err := e.store.DetachFolderUIDs(ctx, ids); err != nil {
		return nil, err
	}
	for _, n := range sc.tree.Subtree(f) {
		epoch, ok := n.Epoch()
		if !ok {
			continue
		}
		state := model.Disconnected{LastEpoch: epoch}
		if err := e.store.SetFolderState(ctx, n.ID, state); err != nil {
			return nil, err
		}
		n.State = state
	}

	sc.log.Info().Str("folder", f.Name).Msg("Disconnected folder")
	return &Outcome{Folder: f, Message: fmt.Sprintf("Folder %q disconnected", f.Name)}, nil
}

// purge removes messages left without placements. Failures only leave
// orphans behind for the next run.
func (sc *syncContext) purge() {
	n, err := sc.e.purgeOrphans(sc.ctx)
	if err != nil {
		sc.log.Warn().Err(err).Msg("Purging orphaned messages")
		return
	}
	if n > 0 {
		sc.log.Debug().Int64("count", n).Msg("Purged orphaned messages")
	}
}

func (e *Engine) purgeOrphans(ctx context.Context) (int64, error) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	return e.store.PurgeOrphans(ctx)
}
