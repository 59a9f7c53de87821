package workflow

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/3leaps/gobmc/pkg/transport"
	"github.com/3leaps/gobmc/pkg/transport/mocks"
	"github.com/3leaps/gobmc/test/bmctest"
)

const managerURI = "/redfish/v1/Managers/iDRAC.Embedded.1"

func TestSubmit_AsyncLocation(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		Invoke(gomock.Any(), http.MethodPost, "/redfish/v1/run", map[string]any{"RunMode": "Express"}).
		Return(&transport.Response{
			StatusCode: http.StatusAccepted,
			Headers:    http.Header{"Location": []string{jobURI}},
		}, nil).
		Times(1)

	res, err := Submit(context.Background(), client, http.MethodPost, "/redfish/v1/run", Payload{"RunMode": "Express"})
	require.NoError(t, err)
	assert.True(t, res.Async())
	assert.Equal(t, jobURI, res.JobURI)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
}

func TestSubmit_SynchronousBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().
		Invoke(gomock.Any(), http.MethodPost, "/redfish/v1/blink", map[string]any{}).
		Return(&transport.Response{StatusCode: http.StatusOK, Body: []byte(`{"Status":"ok"}`)}, nil)

	res, err := Submit(context.Background(), client, http.MethodPost, "/redfish/v1/blink", nil)
	require.NoError(t, err)
	assert.False(t, res.Async())
	assert.Equal(t, "ok", res.Body["Status"])
}

func TestSubmit_DoesNotRetry(t *testing.T) {
	client := bmctest.NewClient().On(http.MethodPost, "/redfish/v1/run",
		bmctest.Step{Status: http.StatusInternalServerError},
		bmctest.Step{Status: http.StatusAccepted},
	)

	_, err := Submit(context.Background(), client, http.MethodPost, "/redfish/v1/run", Payload{})
	require.Error(t, err)
	assert.Equal(t, 1, client.CallCount())
}

func TestDiscoverOemTarget_MissingLinkIsUnsupportedFirmware(t *testing.T) {
	client := bmctest.NewClient().On(http.MethodGet, managerURI, bmctest.Step{Body: `{"Id":"iDRAC.Embedded.1","Links":{"Oem":{"Dell":{}}}}`})

	_, err := DiscoverOemTarget(context.Background(), client, managerURI, "Dell", "DellLCService", "iDRAC firmware version is not supported.")
	require.Error(t, err)
	assert.True(t, IsUnsupportedFirmware(err))
	assert.Equal(t, KindUnsupportedFirmware, Classify(err))
	assert.Equal(t, "iDRAC firmware version is not supported.", err.Error())
}

func TestDiscoverOemTarget_Found(t *testing.T) {
	client := bmctest.NewClient().On(http.MethodGet, managerURI,
		bmctest.Step{Body: `{"Links":{"Oem":{"Dell":{"DellLCService":{"@odata.id":"/redfish/v1/Dell/Managers/iDRAC.Embedded.1/DellLCService"}}}}}`})

	uri, err := DiscoverOemTarget(context.Background(), client, managerURI, "Dell", "DellLCService", "unsupported")
	require.NoError(t, err)
	assert.Equal(t, "/redfish/v1/Dell/Managers/iDRAC.Embedded.1/DellLCService", uri)
}

func TestDiscoverOemTarget_TransportErrorPropagates(t *testing.T) {
	client := bmctest.NewClient()

	_, err := DiscoverOemTarget(context.Background(), client, managerURI, "Dell", "DellLCService", "unsupported")
	require.Error(t, err)
	assert.False(t, IsUnsupportedFirmware(err))
	assert.True(t, transport.IsStatus(err, http.StatusNotFound))
}

func TestJobIDFromURI(t *testing.T) {
	assert.Equal(t, "JID_123456789", JobIDFromURI(jobURI))
	assert.Equal(t, "JID_1", JobIDFromURI("/redfish/v1/TaskService/Tasks/JID_1/"))
	assert.Equal(t, "12345", JobIDFromURI("/api/JobService/Jobs(12345)"))
	assert.Equal(t, "", JobIDFromURI(""))
}
