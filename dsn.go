package sentry

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// DsnParseError is returned by NewDsn when the input string does not conform
// to the PROTO://PUBLICKEY@HOST[:PORT]/PROJECT_ID shape.
type DsnParseError struct {
	Message string
}

func (e DsnParseError) Error() string {
	return "[Sentry] DsnParseError: " + e.Message
}

// Dsn is a parsed Sentry DSN, the identifier used to authenticate events
// against a Sentry project and endpoint.
type Dsn struct {
	scheme    string
	publicKey string
	secretKey string
	host      string
	port      int
	path      string
	projectID string
}

// DsnComponents is the set of fields an envelope header or outbound auth
// query string is built from.
type DsnComponents struct {
	Protocol  string
	PublicKey string
	Host      string
	Port      int
	ProjectID string
	Path      string
}

func NewDsn(rawURL string) (*Dsn, error) {
	if rawURL == "" {
		return nil, nil
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, &DsnParseError{"invalid url: " + err.Error()}
	}

	if parsedURL.Scheme != schemeHTTP && parsedURL.Scheme != schemeHTTPS {
		return nil, &DsnParseError{"invalid scheme"}
	}

	if parsedURL.User == nil {
		return nil, &DsnParseError{"empty username"}
	}
	publicKey := parsedURL.User.Username()
	if publicKey == "" {
		return nil, &DsnParseError{"empty username"}
	}
	secretKey, _ := parsedURL.User.Password()

	if parsedURL.Host == "" {
		return nil, &DsnParseError{"empty host"}
	}

	path, projectID := splitPath(parsedURL.Path)
	if projectID == "" {
		return nil, &DsnParseError{"empty project id"}
	}
	if _, err := strconv.Atoi(projectID); err != nil {
		return nil, &DsnParseError{"invalid project id: " + err.Error()}
	}

	port := 0
	if p := parsedURL.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, &DsnParseError{"invalid port: " + err.Error()}
		}
	}

	return &Dsn{
		scheme:    parsedURL.Scheme,
		publicKey: publicKey,
		secretKey: secretKey,
		host:      parsedURL.Hostname(),
		port:      port,
		path:      path,
		projectID: projectID,
	}, nil
}

func splitPath(p string) (path string, projectID string) {
	p = strings.TrimSuffix(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx == -1 {
		return "", strings.TrimPrefix(p, "/")
	}
	return p[:idx], p[idx+1:]
}

func (dsn Dsn) Components() DsnComponents {
	return DsnComponents{
		Protocol:  dsn.scheme,
		PublicKey: dsn.publicKey,
		Host:      dsn.host,
		Port:      dsn.port,
		ProjectID: dsn.projectID,
		Path:      dsn.path,
	}
}

// String renders the DSN back to a URL. The secret key is dropped: modern
// Sentry DSNs never carry one, and the wire form must never reproduce it
// even if a legacy caller supplied one.
func (dsn Dsn) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s://%s@%s", dsn.scheme, dsn.publicKey, dsn.host)
	if dsn.port != 0 && !dsn.isDefaultPort() {
		fmt.Fprintf(&b, ":%d", dsn.port)
	}
	if dsn.path != "" {
		b.WriteString(dsn.path)
	}
	fmt.Fprintf(&b, "/%s", dsn.projectID)
	return b.String()
}

func (dsn Dsn) isDefaultPort() bool {
	return (dsn.scheme == schemeHTTP && dsn.port == 80) ||
		(dsn.scheme == schemeHTTPS && dsn.port == 443)
}

// EnvelopeEndpoint returns the URL events are POSTed to: {scheme}://{host}[:port]{path}/api/{projectID}/envelope/.
func (dsn Dsn) EnvelopeEndpoint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s://%s", dsn.scheme, dsn.host)
	if dsn.port != 0 && !dsn.isDefaultPort() {
		fmt.Fprintf(&b, ":%d", dsn.port)
	}
	fmt.Fprintf(&b, "%s/api/%s/envelope/", dsn.path, dsn.projectID)
	return b.String()
}

// RequestHeaders returns the X-Sentry-Auth header Sentry's legacy /store/
// endpoint expects. The modern /envelope/ endpoint instead authenticates via
// query string (see AuthQueryString), but some self-hosted relays still only
// understand the header form.
func (dsn Dsn) RequestHeaders() map[string]string {
	auth := fmt.Sprintf("Sentry sentry_version=%s, sentry_client=%s/%s, sentry_key=%s",
		"7", SDKIdentifier, SDKVersion, dsn.publicKey)
	if dsn.secretKey != "" {
		auth += fmt.Sprintf(", sentry_secret=%s", dsn.secretKey)
	}
	return map[string]string{
		"Content-Type":  "application/json",
		"X-Sentry-Auth": auth,
	}
}

// AuthQueryString returns the "?sentry_key=...&sentry_version=7&sentry_client=..."
// query string used to authenticate against the /envelope/ endpoint.
func (dsn Dsn) AuthQueryString() string {
	v := url.Values{}
	v.Set("sentry_key", dsn.publicKey)
	v.Set("sentry_version", "7")
	v.Set("sentry_client", fmt.Sprintf("%s/%s", SDKIdentifier, SDKVersion))
	return v.Encode()
}
