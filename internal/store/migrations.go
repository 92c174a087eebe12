package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	user_id    TEXT NOT NULL DEFAULT '',
	address    TEXT NOT NULL DEFAULT '',
	signature  TEXT NOT NULL DEFAULT '',
	store      TEXT NOT NULL DEFAULT '{}',
	transport  TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS folders (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	parent_id    INTEGER REFERENCES folders(id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	system       TEXT NOT NULL DEFAULT '',
	connected    INTEGER NOT NULL DEFAULT 1 CHECK(connected IN (0, 1)),
	uid_validity INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_folders_account_id ON folders(account_id);
CREATE INDEX IF NOT EXISTS idx_folders_parent_id ON folders(parent_id);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	unique_id   TEXT NOT NULL UNIQUE,
	message_id  TEXT NOT NULL DEFAULT '',
	date        DATETIME NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	sender      TEXT NOT NULL DEFAULT '',
	raw_content TEXT,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS recipients (
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	type       TEXT NOT NULL CHECK(type IN ('to', 'cc', 'bcc')),
	address    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (message_id, type, address)
);

CREATE TABLE IF NOT EXISTS parts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id   INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	content      TEXT NOT NULL DEFAULT '',
	html_content TEXT
);

CREATE TABLE IF NOT EXISTS attachments (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id   INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	blob_key     TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_parts_message_id ON parts(message_id);
CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments(message_id);

CREATE TABLE IF NOT EXISTS places (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	folder_id  INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	flags      INTEGER NOT NULL DEFAULT 0,
	uid        INTEGER,
	replied    INTEGER REFERENCES places(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_places_folder_uid ON places(folder_id, uid);
CREATE INDEX IF NOT EXISTS idx_places_message_id ON places(message_id);

CREATE TABLE IF NOT EXISTS rules (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	ordinal    INTEGER NOT NULL DEFAULT 0,
	condition  TEXT NOT NULL CHECK(condition IN ('all', 'sender', 'recipients', 'subject')),
	expression TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL CHECK(action IN ('copy', 'move', 'delete', 'flag', 'mark_read', 'forward', 'reply')),
	folder     TEXT NOT NULL DEFAULT '',
	parameter  TEXT NOT NULL DEFAULT '',
	active     INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_rules_account_ordinal ON rules(account_id, ordinal);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
