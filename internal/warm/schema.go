package warm

// Schema for the warm transactional store. content_hash is stored as
// BIGINT; uint64 hashes are bit-cast through int64 on the way in and out.
const schema = `
CREATE TABLE IF NOT EXISTS readings (
	node_id       VARCHAR NOT NULL,
	ts_ms         BIGINT  NOT NULL,
	flow_rate     DOUBLE  NOT NULL,
	pressure      DOUBLE  NOT NULL,
	temperature   DOUBLE  NOT NULL,
	volume        DOUBLE  NOT NULL,
	quality_score DOUBLE  NOT NULL,
	interpolated  BOOLEAN NOT NULL DEFAULT false,
	source_tag    VARCHAR NOT NULL DEFAULT '',
	content_hash  BIGINT  NOT NULL,
	PRIMARY KEY (node_id, ts_ms)
);

CREATE TABLE IF NOT EXISTS nodes (
	id       VARCHAR PRIMARY KEY,
	name     VARCHAR NOT NULL,
	type     VARCHAR NOT NULL,
	location VARCHAR NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	source_table      VARCHAR PRIMARY KEY,
	last_synced_ms    BIGINT NOT NULL,
	last_content_hash BIGINT NOT NULL
);
`

const insertReading = `
INSERT INTO readings
	(node_id, ts_ms, flow_rate, pressure, temperature, volume,
	 quality_score, interpolated, source_tag, content_hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updateReading = `
UPDATE readings SET
	flow_rate = ?, pressure = ?, temperature = ?, volume = ?,
	quality_score = ?, interpolated = ?, source_tag = ?, content_hash = ?
WHERE node_id = ? AND ts_ms = ?
`

// Synthetic rows never replace an existing row; the conflict clause makes
// re-running the generator a no-op for already-filled buckets.
const insertSynthetic = `
INSERT INTO readings
	(node_id, ts_ms, flow_rate, pressure, temperature, volume,
	 quality_score, interpolated, source_tag, content_hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (node_id, ts_ms) DO NOTHING
`

const selectRange = `
SELECT node_id, ts_ms, flow_rate, pressure, temperature, volume,
       quality_score, interpolated, source_tag, content_hash
FROM readings
WHERE node_id IN (%s) AND ts_ms >= ? AND ts_ms < ?
ORDER BY node_id, ts_ms
LIMIT ?
`

const selectHashes = `
SELECT node_id, ts_ms, content_hash
FROM readings
WHERE ts_ms >= ? AND ts_ms <= ?
`

const upsertNode = `
INSERT INTO nodes (id, name, type, location)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name, type = excluded.type, location = excluded.location
`

const upsertCursor = `
INSERT INTO sync_cursors (source_table, last_synced_ms, last_content_hash)
VALUES (?, ?, ?)
ON CONFLICT (source_table) DO UPDATE SET
	last_synced_ms = excluded.last_synced_ms,
	last_content_hash = excluded.last_content_hash
`
