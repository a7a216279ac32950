package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rxtech-lab/argo-papertrade/pkg/errors"
)

// SupportedRange returns the semver range of strategy contracts the engine
// accepts for engineContract: the same major version, not newer than the
// engine. A strategy built for 1.0.0 runs on a 1.3.0 engine, while one that
// needs 1.4.0 or 2.0.0 does not.
func SupportedRange(engineContract string) (*semver.Constraints, error) {
	engine, err := semver.NewVersion(strings.TrimPrefix(engineContract, "v"))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidVersion, err, "invalid engine contract %q", engineContract)
	}

	constraint, err := semver.NewConstraint(fmt.Sprintf(">= %d.0.0, <= %s", engine.Major(), engine.String()))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidVersion, err, "invalid contract range for %q", engineContract)
	}

	return constraint, nil
}

// CheckContract checks a strategy's contract version against the engine's.
//
// Examples:
//   - Engine 1.2.0, Strategy 1.2.0 -> OK
//   - Engine 1.2.0, Strategy 1.0.3 -> OK (older minor)
//   - Engine 1.2.0, Strategy 1.3.0 -> ERROR (needs a newer engine)
//   - Engine 2.0.0, Strategy 1.2.0 -> ERROR (major differs)
func CheckContract(engineContract, strategyContract string) error {
	supported, err := SupportedRange(engineContract)
	if err != nil {
		return err
	}

	contract, err := semver.NewVersion(strings.TrimPrefix(strategyContract, "v"))
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidVersion, err, "invalid strategy contract %q", strategyContract)
	}

	if ok, reasons := supported.Validate(contract); !ok {
		return errors.Newf(errors.ErrCodeVersionMismatch,
			"strategy contract %s is not supported by engine contract %s: %v",
			contract, engineContract, reasons)
	}

	return nil
}
