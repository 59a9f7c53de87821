// Package fakebmc serves a scripted iDRAC Redfish service and an OpenManage
// Enterprise API over HTTPS for end-to-end command tests.
//
// Every job created through an action walks through the configured job
// states, one state per GET, and stays on the last one.
package fakebmc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Well-known resources of the fake iDRAC.
const (
	Manager     = "/redfish/v1/Managers/iDRAC.Embedded.1"
	LCService   = "/redfish/v1/Dell/Managers/iDRAC.Embedded.1/DellLCService"
	RaidService = "/redfish/v1/Dell/Systems/System.Embedded.1/DellRaidService"
	Controller  = "RAID.Slot.1-1"
	Disk        = "Disk.Bay.0:Enclosure.Internal.0-1:RAID.Slot.1-1"

	controllerURI = "/redfish/v1/Systems/System.Embedded.1/Storage/" + Controller
	driveURI      = "/redfish/v1/Systems/System.Embedded.1/Storage/Drives/" + Disk
)

// Well-known resources of the fake OME appliance.
const (
	OMEJobs    = "/api/JobService/Jobs"
	OMEDevices = "/api/DeviceService/Devices"
)

// DefaultUser and DefaultPassword are accepted unless WithCredentials is used.
const (
	DefaultUser     = "root"
	DefaultPassword = "calvin"
)

// Request is one request the server received.
type Request struct {
	Method string
	Path   string
	Body   map[string]any
}

// Server is the fake controller.
type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	user      string
	password  string
	docs      map[string]any
	actions   map[string]actionFunc
	jobs      map[string]*job
	order     []string
	requests  []Request
	jobStates []string
	nextID    int
}

type job struct {
	id    string
	kind  string
	ome   bool
	polls int
}

// actionFunc answers a POST. It returns the status, headers and body.
type actionFunc func(s *Server, body map[string]any) (int, http.Header, any)

// Option configures a Server.
type Option func(*Server)

// WithCredentials sets the accepted basic auth credentials.
func WithCredentials(user, password string) Option {
	return func(s *Server) {
		s.user, s.password = user, password
	}
}

// WithJobStates sets the states new iDRAC jobs report on successive polls.
// The default is Running then Completed.
func WithJobStates(states ...string) Option {
	return func(s *Server) {
		if len(states) > 0 {
			s.jobStates = states
		}
	}
}

// WithVolumes sets how many virtual disks the storage controller reports.
func WithVolumes(n int) Option {
	return func(s *Server) {
		members := make([]any, 0, n)
		for i := 0; i < n; i++ {
			members = append(members, map[string]any{"@odata.id": fmt.Sprintf("/redfish/v1/Systems/System.Embedded.1/Storage/Volumes/Disk.Virtual.%d:%s", i, Controller)})
		}
		s.docs[controllerURI+"/Volumes"] = map[string]any{"Members@odata.count": n, "Members": members}
	}
}

// WithDocument serves doc for GET path, replacing any baseline document.
func WithDocument(path string, doc any) Option {
	return func(s *Server) {
		s.docs[path] = doc
	}
}

// New starts a TLS server. Close it when done.
func New(opts ...Option) *Server {
	s := &Server{
		user:      DefaultUser,
		password:  DefaultPassword,
		docs:      map[string]any{},
		actions:   map[string]actionFunc{},
		jobs:      map[string]*job{},
		jobStates: []string{"Running", "Completed"},
		nextID:    1000,
	}
	s.baseline()
	for _, opt := range opts {
		opt(s)
	}
	s.srv = httptest.NewTLSServer(s.router())
	return s
}

// URL is the https://host:port base of the server.
func (s *Server) URL() string {
	return s.srv.URL
}

// Host is the hostname part of URL.
func (s *Server) Host() string {
	u, _ := url.Parse(s.srv.URL)
	return u.Hostname()
}

// Client returns an *http.Client trusting the server certificate.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Mutations returns the received requests other than GET.
func (s *Server) Mutations() []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method != http.MethodGet {
			out = append(out, r)
		}
	}
	return out
}

// Jobs returns the ids of jobs created so far, in creation order.
func (s *Server) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(recovery, s.record, s.auth)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Base.1.8.ResourceMissingAtURI", fmt.Sprintf("The resource at the URI %s was not found.", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Base.1.8.OperationNotAllowed", fmt.Sprintf("The %s operation is not allowed on %s.", r.Method, r.URL.Path))
	})
	r.Get("/*", s.get)
	r.Post("/*", s.post)
	r.Patch("/*", s.post)
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{Method: r.Method, Path: r.URL.Path}
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = r.Body.Close()
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &req.Body)
			}
			r.Body = io.NopCloser(strings.NewReader(string(raw)))
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.user || pass != s.password {
			writeError(w, http.StatusUnauthorized, "Base.1.8.InsufficientPrivilege", "There are insufficient privileges for the account or credentials associated with the current session to perform the requested operation.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recovery converts a handler panic into a Redfish error response.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeError(w, http.StatusInternalServerError, "Base.1.8.InternalError", fmt.Sprintf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	s.mu.Lock()
	doc, ok := s.lookup(path)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Base.1.8.ResourceMissingAtURI", fmt.Sprintf("The resource at the URI %s was not found.", path))
		return
	}
	writeJSON(w, http.StatusOK, nil, doc)
}

func (s *Server) post(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	s.mu.Lock()
	fn, ok := s.actions[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Base.1.8.ActionNotSupported", fmt.Sprintf("The action %s is not supported by the resource.", r.URL.Path))
		return
	}
	status, header, resp := fn(s, body)
	writeJSON(w, status, header, resp)
}

// lookup resolves static documents, job resources and job collections.
// The caller holds s.mu.
func (s *Server) lookup(path string) (any, bool) {
	if doc, ok := s.docs[path]; ok {
		return doc, true
	}
	switch {
	case path == Manager+"/Oem/Dell/Jobs" || path == Manager+"/Jobs":
		members := make([]any, 0, len(s.order))
		for _, id := range s.order {
			if j := s.jobs[id]; !j.ome {
				members = append(members, s.dellJobDoc(j, false))
			}
		}
		return map[string]any{"Members": members}, true
	case strings.HasPrefix(path, Manager+"/Oem/Dell/Jobs/"), strings.HasPrefix(path, Manager+"/Jobs/"):
		j, ok := s.jobs[path[strings.LastIndex(path, "/")+1:]]
		if !ok || j.ome {
			return nil, false
		}
		return s.dellJobDoc(j, true), true
	case path == OMEJobs:
		values := make([]any, 0, len(s.order))
		for _, id := range s.order {
			if j := s.jobs[id]; j.ome {
				values = append(values, s.omeJobDoc(j, false))
			}
		}
		return map[string]any{"value": values}, true
	case strings.HasPrefix(path, OMEJobs+"(") && strings.HasSuffix(path, ")"):
		j, ok := s.jobs[strings.TrimSuffix(strings.TrimPrefix(path, OMEJobs+"("), ")")]
		if !ok || !j.ome {
			return nil, false
		}
		return s.omeJobDoc(j, true), true
	}
	return nil, false
}

// newJob registers a job. The caller holds s.mu.
func (s *Server) newJob(kind string, ome bool) *job {
	s.nextID++
	id := fmt.Sprintf("JID_%d", s.nextID)
	if ome {
		id = fmt.Sprintf("%d", s.nextID)
	}
	j := &job{id: id, kind: kind, ome: ome}
	s.jobs[id] = j
	s.order = append(s.order, id)
	return j
}

// state returns the job's current state and, when advance is set, moves it
// one step forward.
func (s *Server) state(j *job, advance bool) string {
	i := j.polls
	if i >= len(s.jobStates) {
		i = len(s.jobStates) - 1
	}
	if advance {
		j.polls++
	}
	return s.jobStates[i]
}

func (s *Server) dellJobDoc(j *job, advance bool) map[string]any {
	st := s.state(j, advance)
	pc := 50
	msg := "Job in progress."
	switch st {
	case "Completed":
		pc, msg = 100, "Job completed successfully."
	case "Failed":
		pc, msg = 100, "Job failed."
	case "Scheduled", "New":
		pc, msg = 0, "Task successfully scheduled."
	}
	return map[string]any{
		"@odata.id":       Manager + "/Oem/Dell/Jobs/" + j.id,
		"Id":              j.id,
		"JobType":         j.kind,
		"JobState":        st,
		"Message":         msg,
		"PercentComplete": pc,
		"StartTime":       "TIME_NOW",
		"CompletionTime":  time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

var omeStatus = map[string]int{
	"Scheduled": 2020, "Queued": 2030, "Starting": 2040, "Running": 2050,
	"Completed": 2060, "Failed": 2070, "New": 2080, "CompletedWithErrors": 2090,
}

func (s *Server) omeJobDoc(j *job, advance bool) map[string]any {
	st := s.state(j, advance)
	id := omeStatus[st]
	if id == 0 {
		id = 2050
	}
	var num int
	_, _ = fmt.Sscanf(j.id, "%d", &num)
	return map[string]any{
		"@odata.id":      OMEJobs + "(" + j.id + ")",
		"Id":             num,
		"JobName":        "Export Log",
		"JobDescription": "Export device log",
		"JobType":        map[string]any{"Id": 18, "Name": j.kind},
		"LastRunStatus":  map[string]any{"Id": id, "Name": st},
	}
}

func writeJSON(w http.ResponseWriter, status int, header http.Header, body any) {
	for k, vs := range header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError writes a Redfish error envelope.
func writeError(w http.ResponseWriter, status int, messageID, message string) {
	writeJSON(w, status, nil, map[string]any{
		"error": map[string]any{
			"code":    "Base.1.8.GeneralError",
			"message": "A general error has occurred. See ExtendedInfo for more information.",
			"@Message.ExtendedInfo": []any{
				map[string]any{"MessageId": messageID, "Message": message, "Severity": "Critical"},
			},
		},
	})
}

func link(uri string) map[string]any {
	return map[string]any{"@odata.id": uri}
}

func actions(base string, names ...string) map[string]any {
	out := map[string]any{}
	for _, n := range names {
		out["#"+n] = map[string]any{"target": base + "/Actions/" + n}
	}
	return out
}

// baseline installs the documents and actions of a healthy controller.
func (s *Server) baseline() {
	s.docs["/redfish/v1"] = map[string]any{
		"@odata.id":      "/redfish/v1",
		"RedfishVersion": "1.11.0",
		"Managers":       link("/redfish/v1/Managers"),
		"Systems":        link("/redfish/v1/Systems"),
	}
	s.docs["/redfish/v1/Managers"] = map[string]any{"Members": []any{link(Manager)}}
	s.docs[Manager] = map[string]any{
		"@odata.id": Manager,
		"Id":        "iDRAC.Embedded.1",
		"DateTime":  "2026-01-19T10:00:00-06:00",
		"Links": map[string]any{
			"Oem": map[string]any{"Dell": map[string]any{"DellLCService": link(LCService)}},
		},
	}
	s.docs[LCService] = map[string]any{
		"@odata.id": LCService,
		"Actions": actions(LCService,
			"DellLCService.RunePSADiagnostics",
			"DellLCService.ExportePSADiagnosticsResult",
			"DellLCService.TestNetworkShare"),
	}
	s.docs[RaidService] = map[string]any{
		"@odata.id": RaidService,
		"Actions": actions(RaidService,
			"DellRaidService.ResetConfig",
			"DellRaidService.AssignSpare",
			"DellRaidService.UnassignSpare",
			"DellRaidService.ClearForeignConfig"),
	}
	s.docs[controllerURI] = map[string]any{
		"@odata.id": controllerURI,
		"Id":        Controller,
		"Volumes":   link(controllerURI + "/Volumes"),
		"Oem": map[string]any{"Dell": map[string]any{
			"DellController": map[string]any{"SecurityStatus": "EncryptionCapable"},
		}},
	}
	s.docs[driveURI] = map[string]any{"@odata.id": driveURI, "Id": Disk}
	s.docs[controllerURI+"/Volumes"] = map[string]any{"Members@odata.count": 0, "Members": []any{}}

	s.docs[OMEDevices] = map[string]any{"value": []any{
		map[string]any{"Id": 10011, "Type": 1000, "DeviceServiceTag": "SVCTAG1"},
		map[string]any{"Id": 10012, "Type": 1000, "DeviceServiceTag": "SVCTAG2"},
		map[string]any{"Id": 20001, "Type": 2000, "DeviceServiceTag": "CHASSIS1"},
	}}

	dellJob := func(kind string) actionFunc {
		return func(s *Server, _ map[string]any) (int, http.Header, any) {
			s.mu.Lock()
			j := s.newJob(kind, false)
			s.mu.Unlock()
			h := http.Header{}
			h.Set("Location", Manager+"/Jobs/"+j.id)
			return http.StatusAccepted, h, nil
		}
	}
	s.actions[LCService+"/Actions/DellLCService.RunePSADiagnostics"] = dellJob("RemoteDiagnostics")
	s.actions[LCService+"/Actions/DellLCService.ExportePSADiagnosticsResult"] = dellJob("Export")
	s.actions[LCService+"/Actions/DellLCService.TestNetworkShare"] = func(*Server, map[string]any) (int, http.Header, any) {
		return http.StatusOK, nil, map[string]any{"@Message.ExtendedInfo": []any{map[string]any{"MessageId": "LC067", "Message": "Successfully Completed Request"}}}
	}
	for _, cmd := range []string{"ResetConfig", "AssignSpare", "UnassignSpare", "ClearForeignConfig"} {
		s.actions[RaidService+"/Actions/DellRaidService."+cmd] = dellJob("RAIDConfiguration")
	}
	s.actions[OMEJobs] = func(s *Server, body map[string]any) (int, http.Header, any) {
		s.mu.Lock()
		j := s.newJob("DebugLogs_Task", true)
		s.mu.Unlock()
		var num int
		_, _ = fmt.Sscanf(j.id, "%d", &num)
		return http.StatusCreated, nil, map[string]any{"Id": num, "JobName": body["JobName"]}
	}
}
