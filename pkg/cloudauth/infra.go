package cloudauth

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultDescriptorPath is where the hosting platform mounts the infra
// descriptor.
const DefaultDescriptorPath = "/app/cred.json"

// InfraDescriptor identifies the platform and cloud the workload runs on.
// It is read once at startup and never changes.
type InfraDescriptor struct {
	InfraType InfraType     `json:"infra_type"`
	Cloud     CloudProvider `json:"cloud"`
}

// LoadInfraDescriptor reads and validates the descriptor at path.
func LoadInfraDescriptor(path string) (*InfraDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrConfiguration(fmt.Sprintf("read infra descriptor %s", path)).WithCause(err)
	}
	return ParseInfraDescriptor(data)
}

// ParseInfraDescriptor decodes a descriptor document. Both keys are required.
func ParseInfraDescriptor(data []byte) (*InfraDescriptor, error) {
	var d InfraDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, ErrConfiguration("malformed infra descriptor").WithCause(err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks both keys are present and known.
func (d *InfraDescriptor) Validate() error {
	switch d.InfraType {
	case InfraNarwhal, InfraGiver:
	case "":
		return ErrConfiguration("infra descriptor is missing infra_type")
	default:
		return ErrConfiguration(fmt.Sprintf("unknown infra_type %q", d.InfraType))
	}
	if d.Cloud == "" {
		return ErrConfiguration("infra descriptor is missing cloud")
	}
	if _, err := ParseProvider(string(d.Cloud)); err != nil {
		return err
	}
	return nil
}

// ProviderID names the workload identity provider for this infra, such as
// "narwhal-aws".
func (d *InfraDescriptor) ProviderID() string {
	return fmt.Sprintf("%s-%s", d.InfraType, d.Cloud)
}

// Audience returns the internal federation audience for this infra.
func (d *InfraDescriptor) Audience(poolProjectNumber, poolID string) string {
	return WorkloadAudience(poolProjectNumber, poolID, d.ProviderID())
}
