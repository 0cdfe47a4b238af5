package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS gamble_positions (
	provider BYTEA PRIMARY KEY,
	staked_amount NUMERIC(78,0) NOT NULL,
	accumulated_earnings NUMERIC(78,0) NOT NULL,

	wins BIGINT NOT NULL DEFAULT 0,
	losses BIGINT NOT NULL DEFAULT 0,
	is_staked BOOLEAN NOT NULL,

	staked_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,

	CONSTRAINT provider_len CHECK (octet_length(provider) = 20),
	CONSTRAINT staked_amount_nonneg CHECK (staked_amount >= 0),
	CONSTRAINT earnings_nonneg CHECK (accumulated_earnings >= 0),
	CONSTRAINT counters_nonneg CHECK (wins >= 0 AND losses >= 0)
);
`
