package store

// Times are stored as unix nanoseconds so ordering is numeric in both dialects.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  item_id TEXT,
  type TEXT NOT NULL,
  value DOUBLE PRECISION NOT NULL DEFAULT 1,
  ts BIGINT NOT NULL,
  meta TEXT,
  delivery_state TEXT NOT NULL,
  sent_at BIGINT,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_state_ts ON events(delivery_state, ts);

CREATE INDEX IF NOT EXISTS idx_events_user_ts ON events(user_id, ts);

CREATE INDEX IF NOT EXISTS idx_events_item ON events(item_id);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`
