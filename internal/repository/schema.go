package repository

// Schema definitions for Kestrel claims storage.
// Compatible with both SQLite and PostgreSQL.

const schemaClaims = `
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    claim_number TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    policy_number TEXT,
    insurance_type TEXT NOT NULL,
    insurance_category TEXT NOT NULL,
    claim_type TEXT NOT NULL,
    amount REAL NOT NULL,
    description TEXT,
    incident_date TIMESTAMP NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    priority TEXT NOT NULL DEFAULT 'medium',
    assigned_to TEXT,
    processed_by TEXT,
    processed_at TIMESTAMP,
    fraud_score REAL NOT NULL DEFAULT 0,
    risk_level TEXT,
    coverage_percent REAL NOT NULL DEFAULT 0,
    covered_amount REAL NOT NULL DEFAULT 0,
    admin_notes TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_tenant ON claims(tenant_id);
CREATE INDEX IF NOT EXISTS idx_claims_customer ON claims(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_claims_created ON claims(tenant_id, created_at);
`

const schemaDocuments = `
CREATE TABLE IF NOT EXISTS claim_documents (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    file_name TEXT NOT NULL,
    document_type TEXT NOT NULL,
    uploaded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_claim ON claim_documents(tenant_id, claim_id);
`

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS claim_analyses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    fraud_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    confidence INTEGER NOT NULL,
    result TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_tenant ON claim_analyses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_analyses_claim ON claim_analyses(tenant_id, claim_id);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON claim_analyses(tenant_id, created_at);
`

const schemaActions = `
CREATE TABLE IF NOT EXISTS claim_actions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    recommendation_id TEXT NOT NULL,
    action TEXT NOT NULL,
    admin_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_claim ON claim_actions(tenant_id, claim_id);
`

const schemaRiskRules = `
CREATE TABLE IF NOT EXISTS risk_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL DEFAULT 'MEDIUM',
    weight REAL NOT NULL DEFAULT 10,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_risk_rules_tenant ON risk_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_risk_rules_enabled ON risk_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClaims,
		schemaDocuments,
		schemaAnalyses,
		schemaActions,
		schemaRiskRules,
	}
}
