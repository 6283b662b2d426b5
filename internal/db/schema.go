package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- USERS TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS users SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON users TYPE string;
    DEFINE FIELD IF NOT EXISTS surname ON users TYPE string;
    DEFINE FIELD IF NOT EXISTS email ON users TYPE string ASSERT string::is::email($value);
    DEFINE FIELD IF NOT EXISTS phone ON users TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS birthDate ON users TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS password_hash ON users TYPE string;
    DEFINE FIELD IF NOT EXISTS createdAt ON users TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS users_email ON users FIELDS email UNIQUE;

    -- ==========================================================================
    -- ANALYSIS TABLE (one record per capture session)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS analizler SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS uid ON analizler TYPE string READONLY;
    DEFINE FIELD IF NOT EXISTS name ON analizler TYPE string DEFAULT "Analysis";
    DEFINE FIELD IF NOT EXISTS status ON analizler TYPE string ASSERT $value IN ["pending", "captured"];
    -- step slots hold "pending" or the uploaded asset URI
    DEFINE FIELD IF NOT EXISTS step1 ON analizler TYPE string DEFAULT "pending";
    DEFINE FIELD IF NOT EXISTS step2 ON analizler TYPE string DEFAULT "pending";
    DEFINE FIELD IF NOT EXISTS step3 ON analizler TYPE string DEFAULT "pending";
    DEFINE FIELD IF NOT EXISTS step4 ON analizler TYPE string DEFAULT "pending";
    DEFINE FIELD IF NOT EXISTS step5 ON analizler TYPE string DEFAULT "pending";
    DEFINE FIELD IF NOT EXISTS createdAt ON analizler TYPE datetime DEFAULT time::now() READONLY;
    DEFINE FIELD IF NOT EXISTS updatedAt ON analizler TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS analizler_uid_created ON analizler FIELDS uid, createdAt;
`
