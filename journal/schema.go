package journal

const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	label TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS order_events (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	kind TEXT NOT NULL,
	order_id INTEGER NOT NULL,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	strategy_id TEXT NOT NULL,
	status TEXT NOT NULL,
	quantity REAL NOT NULL,
	filled_qty REAL NOT NULL,
	avg_price REAL NOT NULL,
	fill_seq INTEGER,
	fill_qty REAL,
	fill_price REAL,
	reason TEXT NOT NULL,
	detail TEXT NOT NULL,
	at DATETIME NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(run_id, order_id);
`
