package mailsync

import (
	"fmt"
	"strings"

	"github.com/nhle/mailsync/internal/model"
)

// runRules applies the account's active rules, in order, to each newly
// stored inbox placement. Failed actions are logged and skipped. Folders
// touched by copy, move or delete are resynchronized afterwards.
func (sc *syncContext) runRules(inbox *model.Folder, placementIDs []int64) error {
	rules, err := sc.e.store.GetRules(sc.ctx, sc.account.ID)
	if err != nil || len(rules) == 0 {
		return err
	}

	changed := make(map[int64]bool)
	for _, id := range placementIDs {
		if err := sc.ctx.Err(); err != nil {
			return err
		}
		if err := sc.applyRules(inbox, id, rules, changed); err != nil {
			sc.log.Warn().Err(err).Int64("placement", id).Msg("Applying rules")
		}
	}

	sc.resync(changed, inbox.ID)
	return nil
}

func (sc *syncContext) applyRules(
	inbox *model.Folder,
	placementID int64,
	rules []model.Rule,
	changed map[int64]bool,
) error {
	p, err := sc.e.store.GetPlacement(sc.ctx, placementID)
	if err != nil {
		return err
	}
	msg, err := sc.e.store.GetMessage(sc.ctx, p.MessageID)
	if err != nil {
		return err
	}
	rcpts, err := sc.e.store.GetRecipients(sc.ctx, msg.ID)
	if err != nil {
		return err
	}

	for _, r := range rules {
		if !matches(r, msg, rcpts) {
			continue
		}

		log := sc.log.With().
			Str("rule", r.ID).
			Str("action", r.Action).
			Int64("placement", p.ID).
			Logger()

		done, err := sc.execute(r, inbox, p, msg, changed)
		if err != nil {
			log.Warn().Err(err).Msg("Rule action failed")
			continue
		}
		log.Debug().Msg("Rule applied")

		// The message has left the inbox.
		if done {
			break
		}
	}
	return nil
}

func matches(r model.Rule, msg *model.Message, rcpts []model.Recipient) bool {
	switch r.Condition {
	case model.ConditionAll:
		return true
	case model.ConditionSender:
		return containsFold(msg.Sender, r.Expression)
	case model.ConditionSubject:
		return containsFold(msg.Subject, r.Expression)
	case model.ConditionRecipients:
		for _, rc := range rcpts {
			if containsFold(rc.Address, r.Expression) {
				return true
			}
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// execute runs one action and reports whether rule evaluation stops.
func (sc *syncContext) execute(
	r model.Rule,
	inbox *model.Folder,
	p *model.Placement,
	msg *model.Message,
	changed map[int64]bool,
) (bool, error) {
	switch r.Action {
	case model.ActionCopy, model.ActionMove:
		target, err := sc.folderByPath(r.Folder)
		if err != nil {
			return false, err
		}
		del := r.Action == model.ActionMove
		if _, err := sc.transfer(inbox, target, []model.Placement{*p}, del); err != nil {
			return false, err
		}
		changed[target.ID] = true
		return del, nil

	case model.ActionDelete:
		var target *model.Folder
		if r.Folder != "" {
			f, err := sc.folderByPath(r.Folder)
			if err != nil {
				return false, err
			}
			target = f
			changed[target.ID] = true
		}
		if _, err := sc.transfer(inbox, target, []model.Placement{*p}, true); err != nil {
			return false, err
		}
		return true, nil

	case model.ActionFlag:
		return false, sc.setFlag(inbox, p, model.FlagFlagged, true)

	case model.ActionMarkRead:
		return false, sc.setFlag(inbox, p, model.FlagSeen, true)

	case model.ActionForward:
		return false, sc.forward(p, msg, r.Parameter)

	case model.ActionReply:
		return false, sc.reply(p, msg, r.Parameter)
	}
	return false, fmt.Errorf("unknown rule action %q", r.Action)
}

// folderByPath resolves a folder path whose names are joined with "/",
// starting below the root.
func (sc *syncContext) folderByPath(path string) (*model.Folder, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("rule has no target folder")
	}

	f := sc.tree.Root
	for _, name := range strings.Split(path, "/") {
		f = f.Child(name)
		if f == nil {
			return nil, fmt.Errorf("target folder %q not found", path)
		}
	}
	return f, nil
}
