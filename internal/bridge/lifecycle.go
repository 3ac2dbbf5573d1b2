package bridge

import (
	"context"
	"fmt"
)

// Boot runs the lifecycle sequence configure, boot source, start. It stops at
// the first error of either kind: later actions assume earlier ones
// succeeded. Transport errors are returned wrapped; action errors are
// returned as *ActionError.
func (e *Endpoint) Boot(ctx context.Context, vm VMConfig, boot BootSourceConfig) error {
	steps := []Action{
		SetVMConfiguration{Config: vm},
		ConfigureBootSource{Config: boot},
		StartMicroVM{},
	}
	for _, a := range steps {
		out, err := e.CallContext(ctx, a)
		if err != nil {
			return fmt.Errorf("%s: %w", a.Kind(), err)
		}
		if out.Err != nil {
			return out.Err
		}
	}
	return nil
}

// InstanceInfo queries the monitor for its identity and state.
func (e *Endpoint) InstanceInfo(ctx context.Context) (InstanceInfo, error) {
	out, err := e.CallContext(ctx, GetInstanceInfo{})
	if err != nil {
		return InstanceInfo{}, err
	}
	data, err := out.Result()
	if err != nil {
		return InstanceInfo{}, err
	}
	if data.InstanceInfo == nil {
		return InstanceInfo{}, fmt.Errorf("get-instance-info: empty response")
	}
	return *data.InstanceInfo, nil
}

// VMConfiguration queries the monitor for the current machine configuration.
func (e *Endpoint) VMConfiguration(ctx context.Context) (VMConfig, error) {
	out, err := e.CallContext(ctx, GetVMConfiguration{})
	if err != nil {
		return VMConfig{}, err
	}
	data, err := out.Result()
	if err != nil {
		return VMConfig{}, err
	}
	if data.VMConfig == nil {
		return VMConfig{}, fmt.Errorf("get-vm-configuration: empty response")
	}
	return *data.VMConfig, nil
}
