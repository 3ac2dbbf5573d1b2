package bridge

import "time"

// InstanceState is the monitor's lifecycle state.
type InstanceState string

const (
	StateUninitialized InstanceState = "uninitialized"
	StateConfigured    InstanceState = "configured"
	StateBootSourceSet InstanceState = "boot-source-set"
	StateRunning       InstanceState = "running"
	StateStopped       InstanceState = "stopped"
)

// InstanceInfo identifies a monitor instance.
type InstanceInfo struct {
	ID          string        `json:"id"`
	VMMVersion  string        `json:"vmm_version"`
	State       InstanceState `json:"state"`
	DriverName  string        `json:"driver,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	ActionCount uint64        `json:"action_count"`
}

// VMMData is the payload of a successful action. Lifecycle actions return an
// empty value; queries fill exactly one field.
type VMMData struct {
	VMConfig     *VMConfig
	InstanceInfo *InstanceInfo
}

// Empty reports whether the data carries no payload.
func (d VMMData) Empty() bool {
	return d.VMConfig == nil && d.InstanceInfo == nil
}

// Outcome is the monitor's verdict on one action. Exactly one of Data and Err
// is meaningful: Err is nil when the action was accepted.
type Outcome struct {
	Data VMMData
	Err  *ActionError
}

// OK reports whether the action was accepted and executed.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Result returns the outcome as a Go result pair. The error is a nil
// interface when the action succeeded.
func (o Outcome) Result() (VMMData, error) {
	if o.Err != nil {
		return VMMData{}, o.Err
	}
	return o.Data, nil
}

// Succeed builds a successful outcome.
func Succeed(data VMMData) Outcome {
	return Outcome{Data: data}
}

// Fail builds a failed outcome for action a.
func Fail(a Action, reason error, detail string) Outcome {
	return Outcome{Err: &ActionError{Kind: a.Kind(), Reason: reason, Detail: detail}}
}

// Request is one queued action.
type Request struct {
	ID     uint64
	Action Action
}

// Response answers the request with the same ID.
type Response struct {
	ID      uint64
	Outcome Outcome
}
