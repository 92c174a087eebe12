package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/sync"
	"github.com/nhle/mailsync/internal/ui/progress"
	"github.com/nhle/mailsync/internal/ui/status"
)

type pollFlags struct {
	folder      string
	interactive bool
	all         bool
}

func parsePollFlags(args []string) pollFlags {
	fs := flag.NewFlagSet("poll", flag.ExitOnError)
	var f pollFlags
	fs.StringVar(&f.folder, "folder", "", "Folder path to poll (default: INBOX)")
	fs.BoolVarP(&f.interactive, "interactive", "i", false, "Show a progress bar; q cancels")
	fs.BoolVar(&f.all, "all", false, "Poll the inbox of every account")
	if err := fs.Parse(args); err != nil {
		fatal("poll: %v", err)
	}
	return f
}

func (a *app) handlePoll(args []string) error {
	f := parsePollFlags(args)
	ctx, cancel := signalContext()
	defer cancel()

	if f.all {
		outcomes, err := a.engine.PollAll(ctx)
		if err != nil {
			return err
		}
		for id, out := range outcomes {
			if out.Err != nil {
				fmt.Printf("%-16s error: %v\n", id, out.Err)
				continue
			}
			fmt.Printf("%-16s %d new, %d folder changes\n", id, out.Result.New, out.Result.Changes)
		}
		return nil
	}

	accountID, folder, _, err := a.folder(ctx, f.folder)
	if err != nil {
		return err
	}

	if f.interactive {
		res, err := progress.Run(accountID+" / "+folder.Name, func(p mailsync.Progress) (*mailsync.PollResult, error) {
			return a.engine.Poll(ctx, accountID, folder.ID, p)
		})
		if err != nil {
			return err
		}
		printPollResult(res)
		return nil
	}

	res, err := a.engine.Poll(ctx, accountID, folder.ID, nil)
	if err != nil {
		return err
	}
	printPollResult(res)
	return nil
}

func printPollResult(res *mailsync.PollResult) {
	fmt.Printf("%s: %d new messages, %d folder changes", res.Folder, res.New, res.Changes)
	if res.Cancelled {
		fmt.Print(" (cancelled)")
	}
	fmt.Println()
}

func (a *app) handleWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", time.Duration(a.cfg.Poll.IntervalSec)*time.Second, "Time between polls")
	interactive := fs.BoolP("interactive", "i", false, "Show account status; r polls now, q quits")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := sync.New(a.engine, *interval, time.Duration(a.cfg.Poll.TimeoutSec)*time.Second, a.log)
	if *interactive {
		return status.Run(p)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// SIGHUP polls every account right away.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				a.log.Info().Msg("Polling all accounts now")
				p.RefreshAll()
			}
		}
	}()

	a.log.Info().Dur("interval", *interval).Msg("Watching accounts")
	p.Run(ctx)
	return nil
}
