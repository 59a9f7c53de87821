package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gobmc/pkg/workflow"
)

func TestBuildSharePayload_HTTPWithParameterProxy(t *testing.T) {
	payload := BuildSharePayload(ShareParameters{
		ShareType:                ShareHTTP,
		IPAddress:                "192.168.0.1",
		ShareName:                "share",
		FileName:                 "diag.txt",
		IgnoreCertificateWarning: "on",
		ProxySupport:             ProxyParameters,
		ProxyServer:              "proxy.example.com",
		ProxyPort:                8080,
	})

	assert.Equal(t, workflow.Payload{
		"ShareType":         "HTTP",
		"IPAddress":         "192.168.0.1",
		"ShareName":         "share",
		"FileName":          "diag.txt",
		"IgnoreCertWarning": "On",
		"ProxySupport":      "ParametersProxy",
		"ProxyType":         "HTTP",
		"ProxyServer":       "proxy.example.com",
		"ProxyPort":         "8080",
	}, payload)
	assert.NotContains(t, payload, "ProxyUname")
	assert.NotContains(t, payload, "ProxyPasswd")
	assert.NotContains(t, payload, "UserName")
}

func TestBuildSharePayload_ProxyCredentialsRequireBoth(t *testing.T) {
	base := ShareParameters{
		ShareType:    ShareHTTPS,
		IPAddress:    "10.0.0.5",
		ShareName:    "diag",
		ProxySupport: ProxyParameters,
		ProxyServer:  "proxy",
		ProxyType:    "socks",
	}

	withOne := base
	withOne.ProxyUsername = "puser"
	p := BuildSharePayload(withOne)
	assert.NotContains(t, p, "ProxyUname")
	assert.Equal(t, "SOCKS", p["ProxyType"])
	assert.Equal(t, "80", p["ProxyPort"])

	withBoth := base
	withBoth.ProxyUsername = "puser"
	withBoth.ProxyPassword = "ppass"
	p = BuildSharePayload(withBoth)
	assert.Equal(t, "puser", p["ProxyUname"])
	assert.Equal(t, "ppass", p["ProxyPasswd"])
}

func TestBuildSharePayload_NoProxyFieldsUnlessParameters(t *testing.T) {
	for _, ps := range []ProxySupport{ProxyOff, ProxyDefault} {
		p := BuildSharePayload(ShareParameters{
			ShareType:    ShareCIFS,
			IPAddress:    "10.0.0.5",
			ShareName:    "diag",
			Username:     "u",
			Password:     "p",
			ProxySupport: ps,
			ProxyServer:  "ignored",
		})
		assert.Equal(t, "CIFS", p["ShareType"])
		assert.Equal(t, "Off", p["IgnoreCertWarning"])
		assert.Equal(t, "u", p["UserName"])
		for _, k := range []string{"ProxySupport", "ProxyType", "ProxyServer", "ProxyPort"} {
			assert.NotContains(t, p, k)
		}
	}
}

func TestBuildRunPayload(t *testing.T) {
	o := DefaultOptions()
	o.Run = true
	assert.Equal(t, workflow.Payload{
		"RebootJobType": "GracefulRebootWithoutForcedShutdown",
		"RunMode":       "Express",
	}, BuildRunPayload(o, nil))

	o.RunMode = RunModeLongRun
	o.RebootType = RebootPowerCycle
	p := BuildRunPayload(o, workflow.Payload{"ScheduledStartTime": "20300101000000"})
	assert.Equal(t, "ExpressAndExtended", p["RunMode"])
	assert.Equal(t, "PowerCycle", p["RebootJobType"])
	assert.Equal(t, "20300101000000", p["ScheduledStartTime"])
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr string
	}{
		{name: "run defaults", mutate: func(o *Options) { o.Run = true }},
		{name: "nothing requested", mutate: func(o *Options) {}, wantErr: "one of the following is required: run, export"},
		{
			name:    "export without share",
			mutate:  func(o *Options) { o.Export = true },
			wantErr: "export is True but all of the following are missing: share_parameters",
		},
		{
			name: "cifs without credentials",
			mutate: func(o *Options) {
				o.Export = true
				o.Share = &ShareParameters{ShareType: ShareCIFS, IPAddress: "10.0.0.1", ShareName: "s"}
			},
			wantErr: "share_type is cifs but all of the following are missing: username, password",
		},
		{
			name: "parameters proxy without server",
			mutate: func(o *Options) {
				o.Export = true
				o.Share = &ShareParameters{ShareType: ShareHTTP, IPAddress: "10.0.0.1", ShareName: "s", ProxySupport: ProxyParameters}
			},
			wantErr: "proxy_support is parameters_proxy but all of the following are missing: proxy_server",
		},
		{
			name:    "bad run mode",
			mutate:  func(o *Options) { o.Run = true; o.RunMode = "quick" },
			wantErr: "value of run_mode must be one of: express, extended, long_run, got: quick",
		},
		{
			name: "bad schedule format",
			mutate: func(o *Options) {
				o.Run = true
				o.RebootType = RebootPowerCycle
				o.ScheduledStartTime = "tomorrow"
			},
			wantErr: "The specified date and time `tomorrow` to schedule the diagnostics is not valid. Enter a valid date and time.",
		},
		{
			name:    "zero timeout with wait",
			mutate:  func(o *Options) { o.Run = true; o.JobWaitTimeout = 0 },
			wantErr: workflow.MsgInvalidTimeout,
		},
		{
			name:   "zero timeout without wait",
			mutate: func(o *Options) { o.Run = true; o.JobWait = false; o.JobWaitTimeout = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}
