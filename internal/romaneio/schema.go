package romaneio

// PostgresSchema creates the romaneio tables on PostgreSQL.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS romaneios (
	id                BIGSERIAL PRIMARY KEY,
	purchase_order    TEXT NOT NULL,
	invoice_number    TEXT NOT NULL,
	access_key        TEXT NOT NULL CHECK (char_length(access_key) = 44),
	external_id       BIGINT,
	status            TEXT NOT NULL DEFAULT 'PENDING',
	attempt_count     INTEGER NOT NULL DEFAULT 0 CHECK (attempt_count >= 0),
	created_by        BIGINT NOT NULL DEFAULT 0,
	after_receipt     BOOLEAN NOT NULL DEFAULT FALSE,
	scheduled         BOOLEAN NOT NULL DEFAULT FALSE,
	insert_as_partial BOOLEAN NOT NULL DEFAULT FALSE,
	notes             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS romaneios_purchase_order_key ON romaneios (purchase_order);
CREATE INDEX IF NOT EXISTS romaneios_status_idx ON romaneios (status);

CREATE TABLE IF NOT EXISTS romaneio_items (
	id                BIGSERIAL PRIMARY KEY,
	romaneio_id       BIGINT NOT NULL REFERENCES romaneios (id) ON DELETE CASCADE,
	external_id       BIGINT,
	code              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	quantity_invoiced BIGINT NOT NULL DEFAULT 0,
	quantity_counted  BIGINT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS romaneio_items_code_key ON romaneio_items (romaneio_id, code);

CREATE TABLE IF NOT EXISTS romaneio_logs (
	id              BIGSERIAL PRIMARY KEY,
	romaneio_id     BIGINT NOT NULL REFERENCES romaneios (id) ON DELETE CASCADE,
	action          TEXT NOT NULL,
	previous_status TEXT,
	new_status      TEXT,
	attempt         INTEGER,
	details         TEXT NOT NULL DEFAULT '',
	actor_id        BIGINT,
	occurred_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS romaneio_logs_romaneio_idx ON romaneio_logs (romaneio_id);
`

// SQLiteSchema creates the romaneio tables on SQLite.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS romaneios (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	purchase_order    TEXT NOT NULL,
	invoice_number    TEXT NOT NULL,
	access_key        TEXT NOT NULL CHECK (length(access_key) = 44),
	external_id       INTEGER,
	status            TEXT NOT NULL DEFAULT 'PENDING',
	attempt_count     INTEGER NOT NULL DEFAULT 0 CHECK (attempt_count >= 0),
	created_by        INTEGER NOT NULL DEFAULT 0,
	after_receipt     INTEGER NOT NULL DEFAULT 0,
	scheduled         INTEGER NOT NULL DEFAULT 0,
	insert_as_partial INTEGER NOT NULL DEFAULT 0,
	notes             TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS romaneios_purchase_order_key ON romaneios (purchase_order);
CREATE INDEX IF NOT EXISTS romaneios_status_idx ON romaneios (status);

CREATE TABLE IF NOT EXISTS romaneio_items (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	romaneio_id       INTEGER NOT NULL REFERENCES romaneios (id) ON DELETE CASCADE,
	external_id       INTEGER,
	code              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	quantity_invoiced INTEGER NOT NULL DEFAULT 0,
	quantity_counted  INTEGER,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS romaneio_items_code_key ON romaneio_items (romaneio_id, code);

CREATE TABLE IF NOT EXISTS romaneio_logs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	romaneio_id     INTEGER NOT NULL REFERENCES romaneios (id) ON DELETE CASCADE,
	action          TEXT NOT NULL,
	previous_status TEXT,
	new_status      TEXT,
	attempt         INTEGER,
	details         TEXT NOT NULL DEFAULT '',
	actor_id        INTEGER,
	occurred_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS romaneio_logs_romaneio_idx ON romaneio_logs (romaneio_id);
`
