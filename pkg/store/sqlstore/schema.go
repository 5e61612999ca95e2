package sqlstore

// OneActiveIndex is the partial unique index that allows one open session
// per user and NAS.
const OneActiveIndex = "idx_sessions_one_active"

// Schema returns the bootstrap DDL. serialPK is the dialect's
// auto-incrementing primary key column definition.
func Schema(serialPK string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			duration_minutes INTEGER NOT NULL,
			data_cap_bytes BIGINT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			nas_id TEXT NOT NULL,
			plan_id TEXT NOT NULL REFERENCES plans(id),
			acct_session_id TEXT NOT NULL,
			framed_ip TEXT,
			started_at BIGINT NOT NULL,
			ended_at BIGINT,
			end_reason TEXT NOT NULL DEFAULT '',
			input_octets BIGINT NOT NULL DEFAULT 0,
			output_octets BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + OneActiveIndex + `
			ON sessions (user_id, nas_id) WHERE ended_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_acct ON sessions (nas_id, acct_session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions (ended_at)`,
		`CREATE TABLE IF NOT EXISTS accounting_records (
			id ` + serialPK + `,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			recorded_at BIGINT NOT NULL,
			status TEXT NOT NULL,
			session_time BIGINT NOT NULL DEFAULT 0,
			input_octets BIGINT NOT NULL DEFAULT 0,
			output_octets BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounting_session ON accounting_records (session_id)`,
		`CREATE TABLE IF NOT EXISTS notification_log (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			threshold_minutes INTEGER NOT NULL,
			sent_at BIGINT NOT NULL,
			PRIMARY KEY (session_id, threshold_minutes)
		)`,
	}
}
