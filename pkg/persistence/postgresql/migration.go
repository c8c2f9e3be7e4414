package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow documents. Nodes live in one JSONB column so a save
			-- is a single atomic row write.
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'disabled')),
				nodes JSONB NOT NULL DEFAULT '[]',
				owner VARCHAR(255) NOT NULL DEFAULT '',
				team_id VARCHAR(255) NOT NULL DEFAULT '',
				revision INT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_team_id ON workflows(team_id);
			CREATE INDEX idx_workflows_updated_at ON workflows(updated_at);
		`,
		2: `
			-- One row per execution; the trigger payload and final output
			-- are JSONB documents.
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				workflow_revision INT NOT NULL DEFAULT 1,
				status VARCHAR(50) NOT NULL CHECK (status IN ('queued', 'running', 'succeeded', 'failed')),
				trigger_payload JSONB,
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at);
		`,
		3: `
			-- Append-only execution log. seq is the per-execution sequence
			-- assigned by the log stream; id just keeps inserts cheap.
			CREATE TABLE workflow_logs (
				id BIGSERIAL PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				seq BIGINT NOT NULL,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				level VARCHAR(20) NOT NULL,
				message TEXT NOT NULL,
				node_id VARCHAR(255),
				UNIQUE (execution_id, seq)
			);

			CREATE INDEX idx_workflow_logs_execution_id ON workflow_logs(execution_id);
		`,
	}
}
