package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	flag "github.com/spf13/pflag"

	"github.com/nhle/mailsync/internal/credential"
)

func (a *app) handleAccount(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: mailsync account set-password|forget-password [--transport]")
	}
	sub := args[0]

	fs := flag.NewFlagSet(sub, flag.ExitOnError)
	transport := fs.Bool("transport", false, "Use the outgoing (SMTP) password instead of the store password")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	accountID, err := a.accountID()
	if err != nil {
		return err
	}
	key, label := credential.StoreKey(accountID), "Store password"
	if *transport {
		key, label = credential.TransportKey(accountID), "Transport password"
	}

	switch sub {
	case "set-password":
		return setPassword(accountID, key, label)
	case "forget-password":
		if err := credential.Delete(key); err != nil {
			return err
		}
		fmt.Printf("Removed %s for %s\n", label, accountID)
		return nil
	default:
		return fmt.Errorf("unknown account command %q", sub)
	}
}

func setPassword(accountID, key, label string) error {
	var password string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(label).
				Description("Saved in the OS keyring for account " + accountID).
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("password is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if err := credential.Set(key, password); err != nil {
		return err
	}
	fmt.Printf("Saved %s for %s\n", label, accountID)
	return nil
}
