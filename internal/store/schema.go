package store

// surrealSchema defines the document and log tables.
const surrealSchema = `
    -- ==========================================================================
    -- DOCUMENT TABLE (one row per version)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS doc_key ON document TYPE string;
    DEFINE FIELD IF NOT EXISTS version ON document TYPE int;
    DEFINE FIELD IF NOT EXISTS data ON document TYPE bytes;
    DEFINE FIELD IF NOT EXISTS checksum ON document TYPE int;
    DEFINE FIELD IF NOT EXISTS saved_at ON document TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS document_version ON document FIELDS doc_key, version UNIQUE;

    -- ==========================================================================
    -- LOG LINE TABLE (append-only)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS log_line SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS log_key ON log_line TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON log_line TYPE int;
    DEFINE FIELD IF NOT EXISTS data ON log_line TYPE bytes;
    DEFINE FIELD IF NOT EXISTS checksum ON log_line TYPE int;

    DEFINE INDEX IF NOT EXISTS log_line_seq ON log_line FIELDS log_key, seq UNIQUE;
`
