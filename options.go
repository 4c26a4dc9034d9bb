package fdc3

// AgentOption configures a RootAgent at construction, standing in for
// the teacher's HandlerOption/RequestOption pattern.
type AgentOption func(*agentOptions)

type agentOptions struct {
	resolver IntentResolver
	implMeta ImplementationMetadata
	directory AppDirectoryClient
	metrics  *Metrics
	audit    *AuditLog
}

func agentDefaults(cfg AgentConfig) agentOptions {
	return agentOptions{
		implMeta: ImplementationMetadata{
			FDC3Version:     "2.2",
			Provider:        cfg.ProviderName,
			ProviderVersion: cfg.ProviderVersion,
		},
	}
}

// WithIntentResolver supplies the picker collaborator consulted when
// raiseIntent resolves to more than one candidate listener. Omitting
// this option means any ambiguous raiseIntent fails with
// ResolverUnavailable (spec.md §6).
func WithIntentResolver(r IntentResolver) AgentOption {
	return func(o *agentOptions) {
		o.resolver = r
	}
}

// WithAppDirectoryClient overrides the default httpAppDirectoryClient
// built from AgentConfig.AppDirectoryURL — useful for tests or for a
// non-HTTP directory implementation.
func WithAppDirectoryClient(c AppDirectoryClient) AgentOption {
	return func(o *agentOptions) {
		o.directory = c
	}
}

// WithMetrics attaches a Prometheus metrics recorder.
func WithMetrics(m *Metrics) AgentOption {
	return func(o *agentOptions) {
		o.metrics = m
	}
}

// WithAuditLog attaches a Postgres-backed audit log of connect/
// disconnect/intent-raise events.
func WithAuditLog(a *AuditLog) AgentOption {
	return func(o *agentOptions) {
		o.audit = a
	}
}
