package store

// Schema creates the tables the extension endpoints read. Rows are written
// by the marketplace sync jobs, or by Seed in tests and demos.
const Schema = `
CREATE TABLE IF NOT EXISTS tokens (
	id          INTEGER PRIMARY KEY,
	name        TEXT,
	marketplace TEXT NOT NULL,
	is_active   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS goods (
	id          INTEGER PRIMARY KEY,
	vendor_code TEXT,
	tech_size   TEXT
);
CREATE INDEX IF NOT EXISTS idx_goods_vendor ON goods(vendor_code);

CREATE TABLE IF NOT EXISTS ozon_stocks (
	id          INTEGER PRIMARY KEY,
	token_id    INTEGER NOT NULL REFERENCES tokens(id),
	offer_id    TEXT NOT NULL,
	fbo_present INTEGER NOT NULL DEFAULT 0,
	fbs_present INTEGER NOT NULL DEFAULT 0,
	date        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ozon_stocks_offer ON ozon_stocks(offer_id, date);

CREATE TABLE IF NOT EXISTS ozon_orders (
	id       INTEGER PRIMARY KEY,
	token_id INTEGER NOT NULL REFERENCES tokens(id),
	offer_id TEXT NOT NULL,
	status   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ozon_orders_offer ON ozon_orders(offer_id);

CREATE TABLE IF NOT EXISTS wb_stocks (
	id               INTEGER PRIMARY KEY,
	token_id         INTEGER NOT NULL REFERENCES tokens(id),
	product_id       INTEGER NOT NULL REFERENCES goods(id),
	quantity         INTEGER NOT NULL DEFAULT 0,
	in_way_to_client INTEGER NOT NULL DEFAULT 0,
	date             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_wb_stocks_product ON wb_stocks(product_id, date);

CREATE TABLE IF NOT EXISTS wb_orders (
	id               INTEGER PRIMARY KEY,
	token_id         INTEGER NOT NULL REFERENCES tokens(id),
	supplier_article TEXT NOT NULL,
	tech_size        TEXT,
	is_cancel        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_wb_orders_article ON wb_orders(supplier_article, tech_size);

CREATE TABLE IF NOT EXISTS wb_sales (
	id         INTEGER PRIMARY KEY,
	token_id   INTEGER NOT NULL REFERENCES tokens(id),
	product_id INTEGER NOT NULL REFERENCES goods(id)
);
CREATE INDEX IF NOT EXISTS idx_wb_sales_product ON wb_sales(product_id);
`
