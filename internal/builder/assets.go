package builder

import _ "embed"

// DefaultCloudInit is the user data servers boot with when CLOUD_INIT_FILE
// is not set. It installs Node.js, a JDK and the Android SDK.
//
//go:embed cloud-init-builder.yaml
var DefaultCloudInit []byte
