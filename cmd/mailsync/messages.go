package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/nhle/mailsync/internal/model"
)

type listFlags struct {
	folder string
	limit  int
}

func (a *app) handleList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	var f listFlags
	fs.StringVar(&f.folder, "folder", "", "Folder path (default: INBOX)")
	fs.IntVar(&f.limit, "limit", 20, "Maximum messages to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	_, folder, _, err := a.folder(ctx, f.folder)
	if err != nil {
		return err
	}
	ps, err := a.store.GetPlacements(ctx, folder.ID)
	if err != nil {
		return err
	}

	type row struct {
		p   model.Placement
		msg *model.Message
	}
	rows := make([]row, 0, len(ps))
	for _, p := range ps {
		msg, err := a.store.GetMessage(ctx, p.MessageID)
		if err != nil {
			return err
		}
		rows = append(rows, row{p, msg})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].msg.Date.After(rows[j].msg.Date) })
	if f.limit > 0 && len(rows) > f.limit {
		rows = rows[:f.limit]
	}

	for _, r := range rows {
		marker := " "
		if !r.p.Flags.Has(model.FlagSeen) {
			marker = "*"
		}
		fmt.Printf("%s %6d  %s  %-30.30s  %s\n",
			marker, r.p.ID, r.msg.Date.Local().Format("2006-01-02 15:04"), r.msg.Sender, r.msg.Subject)
	}
	fmt.Printf("%d of %d messages in %s\n", len(rows), len(ps), folder.Name)
	return nil
}

func (a *app) handleMove(args []string) error {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	from := fs.String("from", "", "Source folder path (default: INBOX)")
	to := fs.String("to", "", "Target folder path")
	ids := fs.Int64Slice("id", nil, "Message id as shown by list (repeatable)")
	keep := fs.Bool("copy", false, "Copy instead of move")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" || len(*ids) == 0 {
		return fmt.Errorf("--to and --id are required")
	}

	ctx, cancel := signalContext()
	defer cancel()
	accountID, src, tree, err := a.folder(ctx, *from)
	if err != nil {
		return err
	}
	dst, err := resolveFolder(tree, *to)
	if err != nil {
		return err
	}

	n, err := a.engine.MoveMessages(ctx, accountID, src.ID, dst.ID, *ids, !*keep)
	if err != nil {
		return err
	}
	verb := "Moved"
	if *keep {
		verb = "Copied"
	}
	fmt.Printf("%s %d messages to %s\n", verb, n, dst.Name)
	return nil
}

func (a *app) handleDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	folder := fs.String("folder", "", "Folder path (default: INBOX)")
	ids := fs.Int64Slice("id", nil, "Message id as shown by list (repeatable)")
	purge := fs.Bool("purge", false, "Remove permanently instead of moving to Trash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(*ids) == 0 {
		return fmt.Errorf("--id is required")
	}

	ctx, cancel := signalContext()
	defer cancel()
	accountID, f, _, err := a.folder(ctx, *folder)
	if err != nil {
		return err
	}
	n, err := a.engine.DeleteMessages(ctx, accountID, f.ID, *ids, *purge)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d messages\n", n)
	return nil
}

func (a *app) handleFlag(args []string) error {
	fs := flag.NewFlagSet("flag", flag.ExitOnError)
	id := fs.Int64("id", 0, "Message id as shown by list")
	name := fs.String("flag", "seen", "Flag: answered, deleted, flagged, seen or user")
	off := fs.Bool("off", false, "Clear the flag instead of setting it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return fmt.Errorf("--id is required")
	}
	bit, ok := model.ParseFlag(*name)
	if !ok {
		return fmt.Errorf("unknown flag %q", *name)
	}

	ctx, cancel := signalContext()
	defer cancel()
	flags, err := a.engine.SetFlag(ctx, *id, bit, !*off)
	if err != nil {
		return err
	}
	fmt.Printf("Message %d flags: %s\n", *id, flags)
	return nil
}

func (a *app) handleExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	folder := fs.String("folder", "", "Folder path (default: INBOX)")
	output := fs.StringP("output", "o", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	accountID, f, _, err := a.folder(ctx, *folder)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		file, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}

	n, err := a.engine.ExportFolder(ctx, accountID, f.ID, w)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported %d messages from %s\n", n, f.Name)
	return nil
}
