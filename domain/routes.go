package domain

// Full gRPC method names this proxy dispatches on. These are the routed
// path strings the teacher's domain generates for a cluster/route; this
// repo has exactly one backend shape per client, so the table collapses to
// a fixed 3-way dispatch instead of the teacher's longest-prefix route
// matcher (spec.md §6).
const (
	DriverServiceMethodPrefix = "/ray.rpc.RayletDriver/"
	DataStreamMethod          = "/ray.rpc.RayletDataStreamer/Datapath"
	LogStreamMethod           = "/ray.rpc.RayletLogStreamer/Logstream"
)

// DriverMethods is the fixed table of unary driver RPCs forwarded
// identically (spec.md §4.D). ClusterInfo additionally gets the PING
// locality exception in DriverProxy.
var DriverMethods = []string{
	"Init",
	"PrepRuntimeEnv",
	"KVPut",
	"KVGet",
	"KVDel",
	"KVList",
	"KVExists",
	"ClusterInfo",
	"Terminate",
	"GetObject",
	"PutObject",
	"WaitObject",
	"Schedule",
}

// ClusterInfoMethod is the bare method name checked for the PING exception.
const ClusterInfoMethod = "ClusterInfo"
