package main

import (
	"context"
	"fmt"
	"path"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/theme"
)

func (a *app) handleFolders() error {
	ctx := context.Background()
	id, err := a.accountID()
	if err != nil {
		return err
	}
	tree, err := a.engine.ListFolders(ctx, id)
	if err != nil {
		return err
	}

	fmt.Println(theme.HeaderStyle.Render(id))
	for _, c := range tree.Root.Children {
		printFolder(c, 0)
	}
	return nil
}

func printFolder(f *model.Folder, depth int) {
	label := f.Name
	if f.IsSystem() {
		label += " [" + string(f.System) + "]"
	}
	if !f.IsConnected() {
		label += " (local)"
	}
	fmt.Printf("%s%d  %s\n", strings.Repeat("  ", depth), f.ID,
		theme.FolderStyle(f.IsConnected(), f.IsSystem()).Render(label))
	for _, c := range f.Children {
		printFolder(c, depth+1)
	}
}

func onePath(cmd string, args []string, n int) []string {
	if len(args) != n {
		fatal("%s: expected %d argument(s), got %d", cmd, n, len(args))
	}
	return args
}

func (a *app) handleMkdir(args []string) error {
	fs := flag.NewFlagSet("mkdir", flag.ExitOnError)
	accept := fs.Bool("accept-existing", false, "Reuse an existing remote folder of that name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p := onePath("mkdir", fs.Args(), 1)[0]

	ctx := context.Background()
	parentPath, name := path.Split(strings.Trim(p, "/"))
	accountID, parent, tree, err := a.folder(ctx, parentPath)
	if err != nil {
		return err
	}
	if strings.Trim(parentPath, "/") == "" {
		parent = tree.Root
	}

	out, err := a.engine.CreateFolder(ctx, accountID, parent.ID, name, *accept)
	return report(out, err)
}

func (a *app) handleRename(args []string) error {
	args = onePath("rename", args, 2)
	ctx := context.Background()
	accountID, f, _, err := a.folder(ctx, args[0])
	if err != nil {
		return err
	}
	out, err := a.engine.RenameFolder(ctx, accountID, f.ID, args[1])
	return report(out, err)
}

func (a *app) handleDrop(args []string) error {
	args = onePath("drop", args, 1)
	ctx := context.Background()
	accountID, f, _, err := a.folder(ctx, args[0])
	if err != nil {
		return err
	}
	out, err := a.engine.DropFolder(ctx, accountID, f.ID)
	return report(out, err)
}

func (a *app) handleDisconnect(args []string) error {
	args = onePath("disconnect", args, 1)
	ctx := context.Background()
	accountID, f, _, err := a.folder(ctx, args[0])
	if err != nil {
		return err
	}
	out, err := a.engine.DisconnectFolder(ctx, accountID, f.ID)
	return report(out, err)
}

func report(out *mailsync.Outcome, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(theme.SuccessStyle.Render(out.Message))
	return nil
}
