package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS workspaces (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		numbers TEXT[] NOT NULL DEFAULT '{}',
		members TEXT[] NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS workspaces_numbers_idx ON workspaces USING GIN (numbers)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		message_id TEXT NOT NULL DEFAULT '',
		raw_payload JSONB,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		outcome TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		claimed_at TIMESTAMPTZ,
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS webhook_events_outcome_idx ON webhook_events (outcome, received_at)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		workspace_id BIGINT NOT NULL,
		from_number TEXT NOT NULL,
		to_number TEXT NOT NULL,
		contact_name TEXT,
		last_message_preview TEXT NOT NULL DEFAULT '',
		last_message_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'primary',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		version BIGINT NOT NULL DEFAULT 1,
		UNIQUE (workspace_id, from_number, to_number)
	)`,
	`CREATE TABLE IF NOT EXISTS group_conversations (
		id TEXT PRIMARY KEY,
		group_key TEXT NOT NULL UNIQUE,
		workspace_id BIGINT NOT NULL,
		participants TEXT[] NOT NULL,
		last_message_preview TEXT NOT NULL DEFAULT '',
		last_message_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		version BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		carrier_message_id TEXT UNIQUE,
		conversation_id TEXT REFERENCES conversations (id),
		workspace_id BIGINT NOT NULL DEFAULT 0,
		group_key TEXT,
		direction TEXT NOT NULL,
		from_number TEXT NOT NULL,
		to_number TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		message_type TEXT NOT NULL,
		media_files JSONB,
		status TEXT NOT NULL,
		failure_reason TEXT,
		client_token TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		delivered_at TIMESTAMPTZ,
		raw_provider_event JSONB,
		version BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS messages_group_key_idx ON messages (group_key, created_at)`,
	`CREATE TABLE IF NOT EXISTS read_status (
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		workspace_id BIGINT NOT NULL,
		unread_count INTEGER NOT NULL DEFAULT 0,
		last_read_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		version BIGINT NOT NULL DEFAULT 1,
		PRIMARY KEY (user_id, conversation_id)
	)`,
	`CREATE INDEX IF NOT EXISTS read_status_workspace_user_idx ON read_status (workspace_id, user_id)`,
	`CREATE TABLE IF NOT EXISTS call_recordings (
		id TEXT PRIMARY KEY,
		workspace_id BIGINT NOT NULL,
		conversation_id TEXT NOT NULL REFERENCES conversations (id),
		direction TEXT NOT NULL,
		filename TEXT NOT NULL,
		file_size BIGINT NOT NULL,
		mime_type TEXT NOT NULL,
		public_url TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		processing_status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
