// Package domain holds the plain data types shared by interfaces and service:
// client identity, port range, job configuration, and the self-defined wire
// schema for the first Datapath message. It has no behavior beyond simple
// validation helpers.
package domain

// ClientId identifies a connected client. Distinct ids get distinct backend
// processes; identity is trust-on-first-use (spec.md: "Identity is
// trust-on-first-use; distinct ids get distinct backends").
type ClientId string

// PortMin and PortMax bound the closed-open range [PortMin, PortMax) the
// PortPool hands out ports from.
const (
	PortMin = 23000
	PortMax = 24000
)

// StartupFenceToken is the process-identifying token the child's command
// line carries once it has exec'd past its launcher shim into the real
// backend executable (argv[2] in the original Ray proxier).
const StartupFenceToken = "ray.util.client.server"

// ClientIDMetadataKey is the gRPC metadata key every inbound call must carry.
const ClientIDMetadataKey = "client_id"

// JobConfig is the decoded form of the job_config blob carried in the first
// Datapath message. Its internal shape is invented for this repo (the real
// wire format is named out of scope by the spec); what matters is that it
// round-trips through decode -> env-prep -> re-encode.
type JobConfig struct {
	RuntimeEnvJSON string            `json:"runtime_env_json"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// DefaultJobConfig is substituted when a Datapath init message carries an
// empty job_config field.
func DefaultJobConfig() JobConfig {
	return JobConfig{}
}
