package version

// Version is the release of the papertrade binaries. It is set at build time:
// -ldflags "-X github.com/rxtech-lab/argo-papertrade/internal/version.Version=1.2.3"
// The value "main" marks a development build.
var Version = "v0.3.0"

// StrategyContract is the strategy interface version implemented by the
// engine. Strategies declare the contract they were written against.
const StrategyContract = "1.0.0"

// GetVersion returns the current version of the binaries.
func GetVersion() string {
	return Version
}
