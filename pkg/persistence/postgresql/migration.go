package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				variables JSONB NOT NULL DEFAULT '{}',
				metadata JSONB,
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);
		`,
		2: `
			-- Flat, position-indexed node list. Position and alias are unique
			-- per workflow; renumbering moves nodes one row at a time.
			CREATE TABLE workflow_nodes (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				uuid VARCHAR(64) NOT NULL,
				position INT NOT NULL,
				alias VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				params JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL DEFAULT 'pending',
				result JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, uuid),
				UNIQUE (workflow_id, position),
				UNIQUE (workflow_id, alias)
			);

			CREATE INDEX idx_workflow_nodes_type ON workflow_nodes(workflow_id, node_type);
		`,
		3: `
			CREATE TABLE workflow_records (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				record_id VARCHAR(255) NOT NULL,
				record_type VARCHAR(255) NOT NULL,
				iteration_node_alias VARCHAR(255) NOT NULL DEFAULT '',
				data JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL CHECK (status IN ('discovered', 'processing', 'complete', 'failed')),
				retry_count INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, record_id)
			);

			CREATE INDEX idx_workflow_records_status ON workflow_records(workflow_id, status);
			CREATE INDEX idx_workflow_records_created_at ON workflow_records(workflow_id, created_at);
		`,
	}
}
