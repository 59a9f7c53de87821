package fakebmc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, s *Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL()+path, &buf)
	require.NoError(t, err)
	req.SetBasicAuth(DefaultUser, DefaultPassword)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var doc map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&doc)
	return resp, doc
}

func extendedMessageID(doc map[string]any) string {
	e, _ := doc["error"].(map[string]any)
	infos, _ := e["@Message.ExtendedInfo"].([]any)
	if len(infos) == 0 {
		return ""
	}
	info, _ := infos[0].(map[string]any)
	id, _ := info["MessageId"].(string)
	return id
}

func TestServer_RejectsBadCredentials(t *testing.T) {
	s := New()
	defer s.Close()

	req, err := http.NewRequest(http.MethodGet, s.URL()+"/redfish/v1", nil)
	require.NoError(t, err)
	req.SetBasicAuth("root", "wrong")
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "Base.1.8.InsufficientPrivilege", extendedMessageID(doc))
}

func TestServer_UnknownResourceUsesRedfishErrors(t *testing.T) {
	s := New()
	defer s.Close()

	resp, doc := do(t, s, http.MethodGet, "/redfish/v1/Nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Base.1.8.ResourceMissingAtURI", extendedMessageID(doc))

	resp, doc = do(t, s, http.MethodDelete, Manager, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "Base.1.8.OperationNotAllowed", extendedMessageID(doc))

	resp, doc = do(t, s, http.MethodPost, Manager+"/Actions/Manager.Reset", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Base.1.8.ActionNotSupported", extendedMessageID(doc))
}

func TestServer_ServesManagerDiscovery(t *testing.T) {
	s := New()
	defer s.Close()

	_, doc := do(t, s, http.MethodGet, Manager, nil)
	links := doc["Links"].(map[string]any)["Oem"].(map[string]any)["Dell"].(map[string]any)
	assert.Equal(t, LCService, links["DellLCService"].(map[string]any)["@odata.id"])

	_, lc := do(t, s, http.MethodGet, LCService, nil)
	assert.Contains(t, lc["Actions"], "#DellLCService.RunePSADiagnostics")
}

func TestServer_JobProgression(t *testing.T) {
	s := New(WithJobStates("Scheduled", "Running", "Completed"))
	defer s.Close()

	resp, _ := do(t, s, http.MethodPost, LCService+"/Actions/DellLCService.RunePSADiagnostics", map[string]any{"RunMode": "Express"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	location := resp.Header.Get("Location")
	require.NotEmpty(t, location)

	ids := s.Jobs()
	require.Len(t, ids, 1)
	assert.Equal(t, Manager+"/Jobs/"+ids[0], location)

	var states []string
	for i := 0; i < 4; i++ {
		_, doc := do(t, s, http.MethodGet, Manager+"/Oem/Dell/Jobs/"+ids[0], nil)
		states = append(states, doc["JobState"].(string))
	}
	assert.Equal(t, []string{"Scheduled", "Running", "Completed", "Completed"}, states)

	_, coll := do(t, s, http.MethodGet, Manager+"/Oem/Dell/Jobs", nil)
	members := coll["Members"].([]any)
	require.Len(t, members, 1)
	assert.Equal(t, "RemoteDiagnostics", members[0].(map[string]any)["JobType"])
}

func TestServer_OMEJobs(t *testing.T) {
	s := New()
	defer s.Close()

	resp, created := do(t, s, http.MethodPost, OMEJobs, map[string]any{"JobName": "Export Log"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["Id"].(float64)
	assert.Equal(t, float64(1001), id)

	_, doc := do(t, s, http.MethodGet, OMEJobs+"(1001)", nil)
	assert.Equal(t, float64(2050), doc["LastRunStatus"].(map[string]any)["Id"])
	_, doc = do(t, s, http.MethodGet, OMEJobs+"(1001)", nil)
	assert.Equal(t, float64(2060), doc["LastRunStatus"].(map[string]any)["Id"])

	_, list := do(t, s, http.MethodGet, OMEJobs, nil)
	assert.Len(t, list["value"], 1)
}

func TestServer_RecordsMutations(t *testing.T) {
	s := New(WithVolumes(2))
	defer s.Close()

	_, vols := do(t, s, http.MethodGet, "/redfish/v1/Systems/System.Embedded.1/Storage/"+Controller+"/Volumes", nil)
	assert.Equal(t, float64(2), vols["Members@odata.count"])

	do(t, s, http.MethodPost, RaidService+"/Actions/DellRaidService.ResetConfig", map[string]any{"TargetFQDD": Controller})

	muts := s.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, http.MethodPost, muts[0].Method)
	assert.Equal(t, Controller, muts[0].Body["TargetFQDD"])
	assert.Len(t, s.Requests(), 2)
}

func TestServer_WithDocumentReplacesBaseline(t *testing.T) {
	s := New(WithDocument(LCService, map[string]any{"Actions": map[string]any{}}))
	defer s.Close()

	_, lc := do(t, s, http.MethodGet, LCService, nil)
	assert.Empty(t, lc["Actions"])
}
