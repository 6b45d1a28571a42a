package ledger

// Money and quantities are stored as decimal TEXT so nothing is lost to floats.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	ticker       TEXT NOT NULL,
	side         TEXT NOT NULL,
	quantity     TEXT NOT NULL,
	price        TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT 'TRADE',
	executed_at  DATETIME NOT NULL,
	session_date TEXT NOT NULL,
	recorded_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_session ON transactions(session_date);
CREATE INDEX IF NOT EXISTS idx_transactions_ticker ON transactions(ticker);
`
