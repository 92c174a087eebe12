package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/nhle/mailsync/internal/model"
)

const version = "0.1.0"

func main() {
	a := &app{}

	flag.StringVarP(&a.configPath, "config", "c", model.DefaultConfigPath(), "Configuration file")
	flag.StringVarP(&a.account, "account", "a", "", "Account id (default: first configured account)")
	flag.BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printUsage
	flag.SetInterspersed(false)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailsync v%s\n", version)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	cmd, cmdArgs := args[0], args[1:]

	switch cmd {
	case "help":
		printUsage()
		return
	case "init":
		if err := a.handleInit(); err != nil {
			fatal("init: %v", err)
		}
		return
	}

	if err := a.open(); err != nil {
		fatal("%v", err)
	}
	defer a.close()

	var err error
	switch cmd {
	case "poll":
		err = a.handlePoll(cmdArgs)
	case "watch":
		err = a.handleWatch(cmdArgs)
	case "folders":
		err = a.handleFolders()
	case "mkdir":
		err = a.handleMkdir(cmdArgs)
	case "rename":
		err = a.handleRename(cmdArgs)
	case "drop":
		err = a.handleDrop(cmdArgs)
	case "disconnect":
		err = a.handleDisconnect(cmdArgs)
	case "list":
		err = a.handleList(cmdArgs)
	case "move":
		err = a.handleMove(cmdArgs)
	case "delete":
		err = a.handleDelete(cmdArgs)
	case "flag":
		err = a.handleFlag(cmdArgs)
	case "send":
		err = a.handleSend(cmdArgs)
	case "export":
		err = a.handleExport(cmdArgs)
	case "account":
		err = a.handleAccount(cmdArgs)
	default:
		a.close()
		fatal("unknown command '%s'", cmd)
	}
	if err != nil {
		a.close()
		fatal("%s: %v", cmd, err)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `mailsync v%s - mail account synchronization

Usage:
  mailsync [global options] <command> [command options]

Commands:
  init                      Write a default configuration file
  poll                      Poll a folder (default: INBOX) of one account
  watch [-i]                Poll every account on the configured interval
  folders                   Show the folder tree
  mkdir <path>              Create a folder
  rename <path> <name>      Rename a folder
  drop <path>               Delete a folder and its subtree
  disconnect <path>         Stop mirroring a folder, keeping local copies
  list                      List messages of a folder
  move                      Move or copy messages between folders
  delete                    Move messages to Trash or purge them
  flag                      Set or clear a flag on a message
  send                      Compose and send a message
  export                    Write a folder as mbox
  account set-password      Store a password in the OS keyring
  account forget-password   Remove a password from the OS keyring

Global Options:
  -c, --config <path>    Configuration file (default: %s)
  -a, --account <id>     Account id (default: first configured account)
  -v, --verbose          Debug logging
      --version          Show version information

Folder paths are names joined with "/" below the root, e.g. INBOX/Archive.

Examples:
  mailsync poll -i
  mailsync -a work poll --folder "INBOX/Sent Messages"
  mailsync mkdir INBOX/Receipts
  mailsync move --from INBOX --to INBOX/Receipts --id 12 --id 14
  mailsync flag --id 12 --flag flagged
  mailsync send --to bob@example.com --subject Hi --body "See you"
  mailsync export --folder INBOX --output inbox.mbox
`, version, model.DefaultConfigPath())
}
