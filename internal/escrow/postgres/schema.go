package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS escrow_deposits (
	job_id BIGINT PRIMARY KEY,
	poster BYTEA NOT NULL,
	provider BYTEA NOT NULL,
	amount NUMERIC(78,0) NOT NULL,

	funded BOOLEAN NOT NULL,
	released BOOLEAN NOT NULL DEFAULT FALSE,
	refunded BOOLEAN NOT NULL DEFAULT FALSE,

	funded_at TIMESTAMPTZ NOT NULL,
	settled_at TIMESTAMPTZ,

	CONSTRAINT poster_len CHECK (octet_length(poster) = 20),
	CONSTRAINT provider_len CHECK (octet_length(provider) = 20),
	CONSTRAINT amount_pos CHECK (amount > 0),
	CONSTRAINT one_terminal_state CHECK (NOT (released AND refunded))
);
`
