package postgres

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				current_version_id UUID,
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flows_organization_id ON flows(organization_id);
			CREATE INDEX idx_flows_created_at ON flows(created_at);
			CREATE INDEX idx_flows_deleted_at ON flows(deleted_at);

			CREATE TABLE flow_versions (
				id UUID PRIMARY KEY,
				flow_id UUID NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				version_number INTEGER NOT NULL,
				graph JSONB NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT FALSE,
				created_by VARCHAR(255),
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (flow_id, version_number)
			);

			CREATE INDEX idx_flow_versions_flow_id ON flow_versions(flow_id);

			-- At most one active version per flow, enforced by the database
			-- itself rather than application code.
			CREATE UNIQUE INDEX idx_flow_versions_one_active
				ON flow_versions(flow_id) WHERE is_active;

			CREATE TABLE instances (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				external_id VARCHAR(255),
				auth_token TEXT,
				status VARCHAR(50) NOT NULL CHECK (status IN ('connected', 'disconnected')),
				webhook_url TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_instances_organization_id ON instances(organization_id);

			CREATE TABLE sessions (
				id UUID PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL,
				contact VARCHAR(255) NOT NULL,
				flow_version_id UUID NOT NULL REFERENCES flow_versions(id),
				current_node_id VARCHAR(255),
				variables JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'waiting', 'awaiting_human', 'completed', 'errored')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- At most one open session per conversation.
			CREATE UNIQUE INDEX idx_sessions_one_open
				ON sessions(instance_id, contact)
				WHERE status NOT IN ('completed', 'errored');

			CREATE INDEX idx_sessions_instance_contact ON sessions(instance_id, contact);
			CREATE INDEX idx_sessions_flow_version_id ON sessions(flow_version_id);

			CREATE TABLE session_waits (
				session_id UUID PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				due_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_session_waits_due_at ON session_waits(due_at);

			CREATE TABLE messages_log (
				id UUID PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL,
				flow_version_id UUID,
				node_id VARCHAR(255),
				direction VARCHAR(10) NOT NULL CHECK (direction IN ('inbound', 'outbound')),
				contact VARCHAR(255),
				message_type VARCHAR(50),
				content JSONB,
				status VARCHAR(20) NOT NULL CHECK (status IN ('success', 'failed', 'pending')),
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_messages_log_instance_id ON messages_log(instance_id);
			CREATE INDEX idx_messages_log_contact ON messages_log(contact);
			CREATE INDEX idx_messages_log_flow_version_id ON messages_log(flow_version_id);
			CREATE INDEX idx_messages_log_created_at ON messages_log(created_at);
		`,
	}
}
