package storagecontroller

import (
	"context"

	"github.com/3leaps/gobmc/pkg/redfish"
	"github.com/3leaps/gobmc/pkg/workflow"
)

// plan is what a handler resolved for one invocation.
type plan struct {
	// Action is the DellRaidService action name.
	Action  string
	Payload workflow.Payload

	// Current and Desired feed the check-mode gate. Desired empty means the
	// action always executes.
	Current workflow.State
	Desired workflow.Payload
}

type handler struct {
	validate func(p Params) error
	plan     func(ctx context.Context, r *resources, p Params) (*plan, error)

	// kind is OperationSetting for commands whose plan compares current and
	// desired state.
	kind workflow.OperationKind
}

// dispatch returns the handler table. Every entry of Commands must be present.
func dispatch() map[Command]handler {
	return map[Command]handler{
		ResetConfig:                {validate: needController(ResetConfig), plan: planResetConfig, kind: workflow.OperationSetting},
		AssignSpare:                {validate: exactlyOneTarget, plan: planSpare(AssignSpare), kind: workflow.OperationSetting},
		UnassignSpare:              {validate: exactlyOneTarget, plan: planSpare(UnassignSpare), kind: workflow.OperationSetting},
		SetControllerKey:           {validate: validateSetKey, plan: planSetControllerKey, kind: workflow.OperationSetting},
		ReKey:                      {validate: validateReKey, plan: planReKey, kind: workflow.OperationAction},
		RemoveControllerKey:        {validate: needController(RemoveControllerKey), plan: planRemoveControllerKey, kind: workflow.OperationSetting},
		EnableControllerEncryption: {validate: validateEnableEncryption, plan: planEnableEncryption, kind: workflow.OperationSetting},
		BlinkTarget:                {validate: validateBlink, plan: planBlink(BlinkTarget), kind: workflow.OperationAction},
		UnBlinkTarget:              {validate: validateBlink, plan: planBlink(UnBlinkTarget), kind: workflow.OperationAction},
		ConvertToRAID:              {validate: needTargets, plan: planConvert(ConvertToRAID, "Ready"), kind: workflow.OperationSetting},
		ConvertToNonRAID:           {validate: needTargets, plan: planConvert(ConvertToNonRAID, "NonRAID"), kind: workflow.OperationSetting},
		ChangePDStateToOnline:      {validate: exactlyOneTarget, plan: planPDState("Online"), kind: workflow.OperationSetting},
		ChangePDStateToOffline:     {validate: exactlyOneTarget, plan: planPDState("Offline"), kind: workflow.OperationSetting},
		LockVirtualDisk:            {validate: validateLock, plan: planLock, kind: workflow.OperationSetting},
	}
}

func needController(cmd Command) func(Params) error {
	return func(p Params) error {
		return requireFields(cmd, map[string]string{"controller_id": p.ControllerID}, "controller_id")
	}
}

func needTargets(p Params) error {
	if len(p.Target) == 0 {
		return workflow.Validationf("target", "target is required")
	}
	return nil
}

func validateSetKey(p Params) error {
	return requireFields(SetControllerKey,
		map[string]string{"controller_id": p.ControllerID, "key": p.Key, "key_id": p.KeyID},
		"controller_id", "key", "key_id")
}

func validateReKey(p Params) error {
	if err := needController(ReKey)(p); err != nil {
		return err
	}
	if p.mode() == ModeLKM && (p.Key == "" || p.KeyID == "" || p.OldKey == "") {
		return workflow.Validationf("key", "All of the following: key, key_id and old_key are required for 'ReKey' operation.")
	}
	return nil
}

func validateEnableEncryption(p Params) error {
	if err := needController(EnableControllerEncryption)(p); err != nil {
		return err
	}
	if p.mode() == ModeLKM && (p.Key == "" || p.KeyID == "") {
		return workflow.Validationf("key", "All of the following: key, key_id are required for 'EnableControllerEncryption' operation.")
	}
	return nil
}

func validateBlink(p Params) error {
	switch {
	case len(p.Target) == 0 && len(p.VolumeID) == 0:
		return workflow.Validationf("target", "one of the following is required: target, volume_id")
	case len(p.Target) > 1:
		return workflow.Validationf("target", msgOneDisk)
	case len(p.Target) == 0 && len(p.VolumeID) > 1:
		return workflow.Validationf("volume_id", msgOneVolume)
	}
	return nil
}

func validateLock(p Params) error {
	if len(p.VolumeID) != 1 {
		return workflow.Validationf("volume_id", msgOneVolume)
	}
	return nil
}

func planResetConfig(ctx context.Context, r *resources, p Params) (*plan, error) {
	ctrl, err := r.controller(ctx, p.ControllerID)
	if err != nil {
		return nil, err
	}
	n, err := r.volumeCount(ctx, ctrl)
	if err != nil {
		return nil, err
	}
	return &plan{
		Action:  string(ResetConfig),
		Payload: workflow.Payload{"TargetFQDD": p.ControllerID},
		Current: workflow.State{"VolumeCount": n},
		Desired: workflow.Payload{"VolumeCount": 0},
	}, nil
}

// planSpare treats any assigned hot spare as satisfying AssignSpare.
func planSpare(cmd Command) func(context.Context, *resources, Params) (*plan, error) {
	return func(ctx context.Context, r *resources, p Params) (*plan, error) {
		target := p.Target[0]
		drive, err := r.drive(ctx, target)
		if err != nil {
			return nil, err
		}
		payload := workflow.Payload{"TargetFQDD": target}
		if cmd == AssignSpare && len(p.VolumeID) > 0 {
			for _, vol := range p.VolumeID {
				if _, err := r.volume(ctx, vol); err != nil {
					return nil, err
				}
			}
			payload["VirtualDiskArray"] = p.VolumeID
		}

		current := redfish.String(drive, "HotspareType")
		want := "None"
		if cmd == AssignSpare {
			want = current
			if current == "" || current == "None" {
				want = "Global"
				if len(p.VolumeID) > 0 {
					want = "Dedicated"
				}
			}
		}
		return &plan{
			Action:  string(cmd),
			Payload: payload,
			Current: workflow.State{"HotspareType": current},
			Desired: workflow.Payload{"HotspareType": want},
		}, nil
	}
}

func keyController(ctx context.Context, r *resources, id string) (map[string]any, error) {
	ctrl, err := r.controller(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := encryptionCapable(id, ctrl); err != nil {
		return nil, err
	}
	return ctrl, nil
}

// planSetControllerKey treats any existing key as satisfying the command.
func planSetControllerKey(ctx context.Context, r *resources, p Params) (*plan, error) {
	ctrl, err := keyController(ctx, r, p.ControllerID)
	if err != nil {
		return nil, err
	}
	current := redfish.String(ctrl, "Oem", "Dell", "DellController", "KeyID")
	want := current
	if want == "" {
		want = p.KeyID
	}
	return &plan{
		Action:  string(SetControllerKey),
		Payload: workflow.Payload{"TargetFQDD": p.ControllerID, "Key": p.Key, "Keyid": p.KeyID},
		Current: workflow.State{"KeyID": current},
		Desired: workflow.Payload{"KeyID": want},
	}, nil
}

func planReKey(ctx context.Context, r *resources, p Params) (*plan, error) {
	if _, err := keyController(ctx, r, p.ControllerID); err != nil {
		return nil, err
	}
	payload := workflow.Payload{"TargetFQDD": p.ControllerID, "Mode": p.mode()}
	if p.mode() == ModeLKM {
		payload["NewKey"] = p.Key
		payload["OldKey"] = p.OldKey
		payload["Keyid"] = p.KeyID
	}
	return &plan{Action: string(ReKey), Payload: payload}, nil
}

func planRemoveControllerKey(ctx context.Context, r *resources, p Params) (*plan, error) {
	ctrl, err := keyController(ctx, r, p.ControllerID)
	if err != nil {
		return nil, err
	}
	return &plan{
		Action:  string(RemoveControllerKey),
		Payload: workflow.Payload{"TargetFQDD": p.ControllerID},
		Current: workflow.State{"KeyID": redfish.String(ctrl, "Oem", "Dell", "DellController", "KeyID")},
		Desired: workflow.Payload{"KeyID": ""},
	}, nil
}

func planEnableEncryption(ctx context.Context, r *resources, p Params) (*plan, error) {
	ctrl, err := keyController(ctx, r, p.ControllerID)
	if err != nil {
		return nil, err
	}
	payload := workflow.Payload{"TargetFQDD": p.ControllerID, "Mode": p.mode()}
	if p.mode() == ModeLKM {
		payload["Key"] = p.Key
		payload["Keyid"] = p.KeyID
	}
	return &plan{
		Action:  string(EnableControllerEncryption),
		Payload: payload,
		Current: workflow.State{"SecurityStatus": redfish.String(ctrl, "Oem", "Dell", "DellController", "SecurityStatus")},
		Desired: workflow.Payload{"SecurityStatus": securityKeyAssigned},
	}, nil
}

func planBlink(cmd Command) func(context.Context, *resources, Params) (*plan, error) {
	return func(ctx context.Context, r *resources, p Params) (*plan, error) {
		var fqdd string
		if len(p.Target) == 1 {
			fqdd = p.Target[0]
			if _, err := r.drive(ctx, fqdd); err != nil {
				return nil, err
			}
		} else {
			fqdd = p.VolumeID[0]
			if _, err := r.volume(ctx, fqdd); err != nil {
				return nil, err
			}
		}
		return &plan{Action: string(cmd), Payload: workflow.Payload{"TargetFQDD": fqdd}}, nil
	}
}

func planConvert(cmd Command, status string) func(context.Context, *resources, Params) (*plan, error) {
	return func(ctx context.Context, r *resources, p Params) (*plan, error) {
		current := workflow.State{}
		desired := workflow.Payload{}
		for _, target := range p.Target {
			drive, err := r.drive(ctx, target)
			if err != nil {
				return nil, err
			}
			current[target] = redfish.String(drive, "Oem", "Dell", "DellPhysicalDisk", "RaidStatus")
			desired[target] = status
		}
		return &plan{
			Action:  string(cmd),
			Payload: workflow.Payload{"PDArray": p.Target},
			Current: current,
			Desired: desired,
		}, nil
	}
}

func planPDState(state string) func(context.Context, *resources, Params) (*plan, error) {
	return func(ctx context.Context, r *resources, p Params) (*plan, error) {
		target := p.Target[0]
		drive, err := r.drive(ctx, target)
		if err != nil {
			return nil, err
		}
		return &plan{
			Action:  "ChangePDState",
			Payload: workflow.Payload{"TargetFQDD": target, "State": state},
			Current: workflow.State{"RaidStatus": redfish.String(drive, "Oem", "Dell", "DellPhysicalDisk", "RaidStatus")},
			Desired: workflow.Payload{"RaidStatus": state},
		}, nil
	}
}

func planLock(ctx context.Context, r *resources, p Params) (*plan, error) {
	id := p.VolumeID[0]
	vol, err := r.volume(ctx, id)
	if err != nil {
		return nil, err
	}
	return &plan{
		Action:  string(LockVirtualDisk),
		Payload: workflow.Payload{"TargetFQDD": id},
		Current: workflow.State{"LockStatus": redfish.String(vol, "Oem", "Dell", "DellVolume", "LockStatus")},
		Desired: workflow.Payload{"LockStatus": "Locked"},
	}, nil
}
