package model

// Rule condition kinds.
const (
	ConditionAll        = "all"
	ConditionSender     = "sender"
	ConditionRecipients = "recipients"
	ConditionSubject    = "subject"
)

// Rule action kinds.
const (
	ActionCopy     = "copy"
	ActionMove     = "move"
	ActionDelete   = "delete"
	ActionFlag     = "flag"
	ActionMarkRead = "mark_read"
	ActionForward  = "forward"
	ActionReply    = "reply"
)

// Rule is an ordered condition/action filter applied to new inbox mail.
type Rule struct {
	ID         string `json:"id" db:"id"`
	AccountID  string `json:"account_id" db:"account_id"`
	Ordinal    int    `json:"ordinal" db:"ordinal"`
	Condition  string `json:"condition" db:"condition"`
	Expression string `json:"expression" db:"expression"`
	Action     string `json:"action" db:"action"`

	// Folder is the target folder path (names joined with "/") for
	// copy, move and delete.
	Folder string `json:"folder" db:"folder"`

	// Parameter is the forwarding address or the canned reply text.
	Parameter string `json:"parameter" db:"parameter"`
	Active    bool   `json:"active" db:"active"`
}

// ValidCondition reports whether c is a known condition kind.
func ValidCondition(c string) bool {
	switch c {
	case ConditionAll, ConditionSender, ConditionRecipients, ConditionSubject:
		return true
	}
	return false
}

// ValidAction reports whether a is a known action kind.
func ValidAction(a string) bool {
	switch a {
	case ActionCopy, ActionMove, ActionDelete, ActionFlag,
		ActionMarkRead, ActionForward, ActionReply:
		return true
	}
	return false
}
