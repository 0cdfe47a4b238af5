package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS orderbook_jobs (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	poster BYTEA NOT NULL,
	provider BYTEA,

	metadata_ref TEXT NOT NULL,
	max_price_usd NUMERIC(78,0) NOT NULL,
	max_price_native NUMERIC(78,0) NOT NULL,
	deadline TIMESTAMPTZ NOT NULL,

	delivery_proof_hash BYTEA,
	status SMALLINT NOT NULL,

	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,

	CONSTRAINT poster_len CHECK (octet_length(poster) = 20),
	CONSTRAINT provider_len CHECK (provider IS NULL OR octet_length(provider) = 20),
	CONSTRAINT metadata_ref_nonempty CHECK (length(metadata_ref) > 0),
	CONSTRAINT max_price_usd_pos CHECK (max_price_usd > 0),
	CONSTRAINT max_price_native_pos CHECK (max_price_native > 0),
	CONSTRAINT proof_hash_len CHECK (delivery_proof_hash IS NULL OR octet_length(delivery_proof_hash) = 32),
	CONSTRAINT status_range CHECK (status >= 1 AND status <= 5)
);

CREATE INDEX IF NOT EXISTS orderbook_jobs_status_idx ON orderbook_jobs (status);
CREATE INDEX IF NOT EXISTS orderbook_jobs_poster_idx ON orderbook_jobs (poster);
`
