package config

// Version constants for bridge manifests.
const (
	// APIVersion is the Kubernetes-style API version for bridge configs
	APIVersion = "voicebridge.leomancini.dev/v1alpha1"

	// Kind is the only manifest kind the bridge accepts.
	Kind = "BridgeConfig"

	// SchemaVersion is the version string used in schema IDs
	SchemaVersion = "v1alpha1"
)
