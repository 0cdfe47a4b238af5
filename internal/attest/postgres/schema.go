package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS attest_records (
	job_id BIGINT PRIMARY KEY,
	confirmed BOOLEAN NOT NULL,
	attested_at TIMESTAMPTZ NOT NULL
);
`
