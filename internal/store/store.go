package store

import (
	"context"
	"errors"

	"github.com/nhle/mailsync/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// MessageContent is persisted atomically with a message's raw-content
// reference when the message is finalized.
type MessageContent struct {
	RawKey      string
	Recipients  []model.Recipient
	Parts       []model.Part
	Attachments []model.Attachment
}

// Store defines the persistence interface for accounts, folder trees,
// deduplicated messages, their placements and filter rules.
type Store interface {
	// === Accounts ===

	UpsertAccount(ctx context.Context, a model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccounts(ctx context.Context) ([]model.Account, error)
	DeleteAccount(ctx context.Context, id string) error

	// === Folders ===

	CreateFolder(ctx context.Context, f model.Folder) (int64, error)
	GetFolder(ctx context.Context, id int64) (*model.Folder, error)
	GetFolders(ctx context.Context, accountID string) ([]model.Folder, error)
	RenameFolder(ctx context.Context, id int64, name string) error
	SetFolderState(ctx context.Context, id int64, state model.FolderState) error
	DeleteFolder(ctx context.Context, id int64) error

	// === Messages ===

	FindMessage(ctx context.Context, uniqueID string) (*model.Message, error)
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	InsertMessage(ctx context.Context, m model.Message) (int64, error)
	FinalizeMessage(ctx context.Context, id int64, content MessageContent) (bool, error)
	DeleteMessage(ctx context.Context, id int64) error
	PurgeOrphans(ctx context.Context) (int64, error)

	GetRecipients(ctx context.Context, messageID int64) ([]model.Recipient, error)
	GetParts(ctx context.Context, messageID int64) ([]model.Part, error)
	GetAttachments(ctx context.Context, messageID int64) ([]model.Attachment, error)

	// === Placements ===

	InsertPlacement(ctx context.Context, p model.Placement) (int64, error)
	HasPlacement(ctx context.Context, messageID, folderID int64, uid *uint32) (bool, error)
	GetPlacement(ctx context.Context, id int64) (*model.Placement, error)
	GetPlacements(ctx context.Context, folderID int64) ([]model.Placement, error)
	GetPlacementsByIDs(ctx context.Context, ids []int64) ([]model.Placement, error)
	RecentPlacements(ctx context.Context, folderID int64, limit int) ([]model.Placement, error)
	MaxUID(ctx context.Context, folderID int64) (uint32, error)
	SetFlags(ctx context.Context, id int64, flags model.Flag) error
	SetReplied(ctx context.Context, id, replyID int64) error
	MovePlacements(ctx context.Context, ids []int64, folderID int64) error
	CopyPlacements(ctx context.Context, ids []int64, folderID int64) ([]int64, error)
	DeletePlacements(ctx context.Context, ids []int64) error
	DeleteFolderPlacements(ctx context.Context, folderID int64) (int64, error)
	DetachFolderUIDs(ctx context.Context, folderIDs []int64) error

	// === Rules ===

	ReplaceRules(ctx context.Context, accountID string, rules []model.Rule) error
	GetRules(ctx context.Context, accountID string) ([]model.Rule, error)
}
