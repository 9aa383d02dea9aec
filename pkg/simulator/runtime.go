package simulator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/dlclark/regexp2"

	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/logger"
)

// ListRuntimes returns installed, available runtimes.
func (c *Client) ListRuntimes(ctx context.Context) ([]Runtime, error) {
	out, err := c.simctl(ctx, "list", "runtimes", "-j")
	if err != nil {
		return nil, core.ErrCommandFailed.WithMessage("failed to list runtimes").WithCause(err)
	}
	var data struct {
		Runtimes []Runtime `json:"runtimes"`
	}
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, core.ErrCommandFailed.WithMessage("failed to parse runtimes").WithCause(err)
	}
	var avail []Runtime
	for _, r := range data.Runtimes {
		if r.IsAvailable {
			avail = append(avail, r)
		}
	}
	return avail, nil
}

// ListDeviceTypes returns the hardware profiles simctl can create.
func (c *Client) ListDeviceTypes(ctx context.Context) ([]DeviceType, error) {
	out, err := c.simctl(ctx, "list", "devicetypes", "-j")
	if err != nil {
		return nil, core.ErrCommandFailed.WithMessage("failed to list device types").WithCause(err)
	}
	var data struct {
		DeviceTypes []DeviceType `json:"devicetypes"`
	}
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, core.ErrCommandFailed.WithMessage("failed to parse device types").WithCause(err)
	}
	return data.DeviceTypes, nil
}

// partialVersion matches a comparison operand with fewer than three parts.
// Tilde and caret operands are captured so they can be left alone.
var partialVersion = regexp2.MustCompile(`(?<![\w.])([~^]\s*)?(\d+(?:\.\d+)?)(?![\w.*+-])`, regexp2.None)

// ParseConstraint parses an OS version constraint. Partial operands of
// comparisons are padded with zeros first: semver reads "< 18" as "< 19",
// while "< 18.0.0" excludes 18.1 as expected.
func ParseConstraint(constraint string) (*semver.Constraints, error) {
	padded, err := partialVersion.ReplaceFunc(constraint, func(m regexp2.Match) string {
		if m.GroupByNumber(1).Length > 0 {
			return m.String()
		}
		v := m.GroupByNumber(2).String()
		if strings.Contains(v, ".") {
			return v + ".0"
		}
		return v + ".0.0"
	}, -1, -1)
	if err != nil {
		return nil, err
	}
	return semver.NewConstraint(padded)
}

// SelectRuntime returns the newest runtime of platform (iOS when empty)
// whose version satisfies constraint, e.g. ">= 17.0, < 18". An empty
// constraint accepts any version.
func SelectRuntime(runtimes []Runtime, platform, constraint string) (*Runtime, error) {
	if platform == "" {
		platform = "iOS"
	}
	var cons *semver.Constraints
	if constraint != "" {
		var err error
		cons, err = ParseConstraint(constraint)
		if err != nil {
			return nil, core.ErrInvalidConfig.WithMessage("invalid OS version constraint " + constraint).WithCause(err)
		}
	}

	var best *Runtime
	var bestVer *semver.Version
	for i := range runtimes {
		r := &runtimes[i]
		if r.Platform != "" && !strings.EqualFold(r.Platform, platform) {
			continue
		}
		if r.Platform == "" && !strings.Contains(r.Identifier, "."+platform+"-") {
			continue
		}
		v, err := semver.NewVersion(r.Version)
		if err != nil {
			logger.Debug("Skipping runtime %s: unparseable version %q", r.Identifier, r.Version)
			continue
		}
		if cons != nil && !cons.Check(v) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = r, v
		}
	}
	if best == nil {
		return nil, core.ErrDeviceNotFound.WithMessage("no " + platform + " runtime matches " + constraint)
	}
	return best, nil
}

// CreateSimulator creates a simulator of deviceType (name or identifier) on
// the newest runtime matching constraint, and returns its UDID.
func (c *Client) CreateSimulator(ctx context.Context, name, deviceType, constraint string) (string, error) {
	runtimes, err := c.ListRuntimes(ctx)
	if err != nil {
		return "", err
	}
	rt, err := SelectRuntime(runtimes, "iOS", constraint)
	if err != nil {
		return "", err
	}

	typeID := deviceType
	if !strings.HasPrefix(deviceType, "com.apple.") {
		types, err := c.ListDeviceTypes(ctx)
		if err != nil {
			return "", err
		}
		typeID = ""
		for _, t := range types {
			if strings.EqualFold(t.Name, deviceType) {
				typeID = t.Identifier
				break
			}
		}
		if typeID == "" {
			return "", core.ErrDeviceNotFound.WithMessage("unknown device type: " + deviceType)
		}
	}

	out, err := c.simctl(ctx, "create", name, typeID, rt.Identifier)
	if err != nil {
		return "", core.ErrCommandFailed.WithMessage("failed to create simulator " + name).WithCause(err)
	}
	udid := strings.TrimSpace(string(out))
	logger.Info("Created simulator %s (%s, %s): %s", name, deviceType, rt.Name, udid)
	return udid, nil
}
