package storagecontroller

import (
	"context"
	"fmt"
	"net/http"

	"github.com/3leaps/gobmc/pkg/redfish"
	"github.com/3leaps/gobmc/pkg/transport"
	"github.com/3leaps/gobmc/pkg/workflow"
)

const (
	controllerURI  = "/redfish/v1/Systems/%s/Storage/%s"
	driveURI       = "/redfish/v1/Systems/%s/Storage/Drives/%s"
	volumeURI      = "/redfish/v1/Systems/%s/Storage/Volumes/%s"
	raidServiceURI = "/redfish/v1/Dell/Systems/%s/DellRaidService"
	raidActionURI  = raidServiceURI + "/Actions/DellRaidService.%s"
)

// Security states reported by DellController.SecurityStatus.
const (
	securityNotCapable  = "EncryptionNotCapable"
	securityKeyAssigned = "SecurityKeyAssigned"
)

// resources reads controller, drive and volume documents. A missing
// resource is a ValidationError naming the parameter.
type resources struct {
	client transport.Client
	system string
}

func (r *resources) get(ctx context.Context, param, id, format string) (map[string]any, error) {
	doc, err := redfish.Get(ctx, r.client, fmt.Sprintf(format, r.system, id))
	if err != nil {
		if transport.IsStatus(err, http.StatusNotFound) {
			return nil, workflow.Validationf(param, "%s with id '%s' not found in system", param, id)
		}
		return nil, err
	}
	return doc, nil
}

func (r *resources) controller(ctx context.Context, id string) (map[string]any, error) {
	return r.get(ctx, "controller_id", id, controllerURI)
}

func (r *resources) drive(ctx context.Context, id string) (map[string]any, error) {
	return r.get(ctx, "target", id, driveURI)
}

func (r *resources) volume(ctx context.Context, id string) (map[string]any, error) {
	return r.get(ctx, "volume_id", id, volumeURI)
}

// encryptionCapable rejects controllers that cannot hold a key.
func encryptionCapable(id string, ctrl map[string]any) error {
	if redfish.String(ctrl, "Oem", "Dell", "DellController", "SecurityStatus") == securityNotCapable {
		return workflow.Validationf("controller_id", "Encryption is not supported on the storage controller: %s", id)
	}
	return nil
}

// volumeCount returns the number of volumes on a controller.
func (r *resources) volumeCount(ctx context.Context, ctrl map[string]any) (int, error) {
	link := redfish.Link(ctrl, "Volumes")
	if link == "" {
		return 0, nil
	}
	doc, err := redfish.Get(ctx, r.client, link)
	if err != nil {
		return 0, err
	}
	if n, ok := redfish.Int(doc, "Members@odata.count"); ok {
		return n, nil
	}
	return len(redfish.Members(doc)), nil
}
