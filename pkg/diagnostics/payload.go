package diagnostics

import (
	"strconv"
	"strings"

	"github.com/3leaps/gobmc/pkg/workflow"
)

// ShareType is the export destination kind.
type ShareType string

const (
	ShareLocal ShareType = "local"
	ShareNFS   ShareType = "nfs"
	ShareCIFS  ShareType = "cifs"
	ShareHTTP  ShareType = "http"
	ShareHTTPS ShareType = "https"
)

// ProxySupport selects how an HTTP(S) share is reached.
type ProxySupport string

const (
	ProxyOff        ProxySupport = "off"
	ProxyDefault    ProxySupport = "default_proxy"
	ProxyParameters ProxySupport = "parameters_proxy"
)

var proxySupport = map[ProxySupport]string{
	ProxyOff:        "Off",
	ProxyDefault:    "DefaultProxy",
	ProxyParameters: "ParametersProxy",
}

// ShareParameters describe where diagnostics are exported.
type ShareParameters struct {
	ShareType ShareType `mapstructure:"share_type"`
	IPAddress string    `mapstructure:"ip_address"`
	ShareName string    `mapstructure:"share_name"`
	Username  string    `mapstructure:"username"`
	Password  string    `mapstructure:"password"`
	Workgroup string    `mapstructure:"workgroup"`
	FileName  string    `mapstructure:"file_name"`

	// IgnoreCertificateWarning is "on" or "off".
	IgnoreCertificateWarning string `mapstructure:"ignore_certificate_warning"`

	ProxySupport  ProxySupport `mapstructure:"proxy_support"`
	ProxyType     string       `mapstructure:"proxy_type"`
	ProxyServer   string       `mapstructure:"proxy_server"`
	ProxyPort     int          `mapstructure:"proxy_port"`
	ProxyUsername string       `mapstructure:"proxy_username"`
	ProxyPassword string       `mapstructure:"proxy_password"`
}

// DefaultShareParameters returns share defaults: a local share without proxy.
func DefaultShareParameters() ShareParameters {
	return ShareParameters{
		ShareType:                ShareLocal,
		IgnoreCertificateWarning: "off",
		ProxySupport:             ProxyOff,
		ProxyType:                "http",
		ProxyPort:                80,
	}
}

func (s *ShareParameters) withDefaults() ShareParameters {
	out := *s
	d := DefaultShareParameters()
	if out.ShareType == "" {
		out.ShareType = d.ShareType
	}
	if out.IgnoreCertificateWarning == "" {
		out.IgnoreCertificateWarning = d.IgnoreCertificateWarning
	}
	if out.ProxySupport == "" {
		out.ProxySupport = d.ProxySupport
	}
	if out.ProxyType == "" {
		out.ProxyType = d.ProxyType
	}
	if out.ProxyPort == 0 {
		out.ProxyPort = d.ProxyPort
	}
	return out
}

// Validate checks the share parameter combinations.
func (s *ShareParameters) Validate() error {
	p := s.withDefaults()

	required := map[ShareType][]string{
		ShareLocal: {"share_name"},
		ShareNFS:   {"ip_address", "share_name"},
		ShareCIFS:  {"ip_address", "share_name", "username", "password"},
		ShareHTTP:  {"ip_address", "share_name"},
		ShareHTTPS: {"ip_address", "share_name"},
	}
	fields, ok := required[p.ShareType]
	if !ok {
		return workflow.Validationf("share_type", "value of share_type must be one of: local, nfs, cifs, http, https, got: %s", p.ShareType)
	}
	values := map[string]string{
		"ip_address": p.IPAddress,
		"share_name": p.ShareName,
		"username":   p.Username,
		"password":   p.Password,
	}
	var missing []string
	for _, f := range fields {
		if values[f] == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return workflow.Validationf(missing[0], "share_type is %s but all of the following are missing: %s", p.ShareType, strings.Join(missing, ", "))
	}

	if (p.Username == "") != (p.Password == "") {
		return workflow.Validationf("username", "parameters are required together: username, password")
	}
	if (p.ProxyUsername == "") != (p.ProxyPassword == "") {
		return workflow.Validationf("proxy_username", "parameters are required together: proxy_username, proxy_password")
	}

	if _, ok := proxySupport[p.ProxySupport]; !ok {
		return workflow.Validationf("proxy_support", "value of proxy_support must be one of: off, default_proxy, parameters_proxy, got: %s", p.ProxySupport)
	}
	if p.ProxySupport == ProxyParameters && p.ProxyServer == "" {
		return workflow.Validationf("proxy_server", "proxy_support is parameters_proxy but all of the following are missing: proxy_server")
	}
	switch p.ProxyType {
	case "http", "socks":
	default:
		return workflow.Validationf("proxy_type", "value of proxy_type must be one of: http, socks, got: %s", p.ProxyType)
	}
	switch p.IgnoreCertificateWarning {
	case "on", "off":
	default:
		return workflow.Validationf("ignore_certificate_warning", "value of ignore_certificate_warning must be one of: off, on, got: %s", p.IgnoreCertificateWarning)
	}
	return nil
}

// BuildSharePayload maps share parameters to the controller's field names.
// Empty optional values are omitted. Proxy fields are emitted only for
// parameters_proxy, and proxy credentials only when both are given.
func BuildSharePayload(s ShareParameters) workflow.Payload {
	p := s.withDefaults()
	payload := workflow.Payload{
		"ShareType":         strings.ToUpper(string(p.ShareType)),
		"IgnoreCertWarning": capitalize(p.IgnoreCertificateWarning),
	}
	setIf(payload, "IPAddress", p.IPAddress)
	setIf(payload, "ShareName", p.ShareName)
	setIf(payload, "UserName", p.Username)
	setIf(payload, "Password", p.Password)
	setIf(payload, "FileName", p.FileName)

	if p.ProxySupport == ProxyParameters {
		payload["ProxySupport"] = proxySupport[p.ProxySupport]
		payload["ProxyType"] = strings.ToUpper(p.ProxyType)
		setIf(payload, "ProxyServer", p.ProxyServer)
		payload["ProxyPort"] = strconv.Itoa(p.ProxyPort)
		if p.ProxyUsername != "" && p.ProxyPassword != "" {
			payload["ProxyUname"] = p.ProxyUsername
			payload["ProxyPasswd"] = p.ProxyPassword
		}
	}
	return payload
}

// BuildRunPayload maps run options to the RunePSADiagnostics body. schedule
// carries the already validated ScheduledStartTime/UntilTime fields.
func BuildRunPayload(o Options, schedule workflow.Payload) workflow.Payload {
	payload := workflow.Payload{
		"RebootJobType": rebootJobTypes[o.RebootType],
		"RunMode":       runModes[o.RunMode],
	}
	for k, v := range schedule {
		payload[k] = v
	}
	return payload
}

func setIf(p workflow.Payload, key, value string) {
	if value != "" {
		p[key] = value
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
