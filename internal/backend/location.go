package backend

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Location is a parsed source or destination argument.
type Location struct {
	Scheme string // "", "sftp" or "webdav"
	Host   string
	User   string
	Path   string
	URL    string // full endpoint URL for webdav locations
	Port   int
}

// IsRemote reports whether the location refers to a remote host.
func (l Location) IsRemote() bool {
	return l.Host != ""
}

// IsWebDAV reports whether the location is a WebDAV endpoint.
func (l Location) IsWebDAV() bool {
	return l.Scheme == "webdav"
}

// String returns a human-readable representation.
func (l Location) String() string {
	if l.IsWebDAV() {
		return l.URL + l.Path
	}
	if !l.IsRemote() {
		return l.Path
	}
	if l.User != "" {
		return fmt.Sprintf("%s@%s:%s", l.User, l.Host, l.Path)
	}
	return fmt.Sprintf("%s:%s", l.Host, l.Path)
}

// ParseLocation parses a CLI argument into a Location.
//
// Supported formats:
//   - /absolute/path                  → local
//   - relative/path                   → local
//   - host:path                       → SFTP remote (current user)
//   - user@host:path                  → SFTP remote
//   - webdav://host[:port]/path       → WebDAV over HTTP
//   - webdavs://host[:port]/path      → WebDAV over HTTPS
//   - http://… and https://…          → WebDAV
//
// Ambiguity rule: a bare word with no colon is always local. A path
// containing ":" is only treated as remote if the part before the colon
// contains no path separators (so "/foo:bar" and "./host:path" are local).
func ParseLocation(arg string) Location {
	for _, scheme := range []string{"webdav://", "webdavs://", "http://", "https://"} {
		if strings.HasPrefix(arg, scheme) {
			return parseWebDAVURL(arg)
		}
	}

	// Absolute paths and paths starting with . are always local.
	if filepath.IsAbs(arg) || strings.HasPrefix(arg, "./") || strings.HasPrefix(arg, "../") {
		return Location{Path: arg}
	}

	colonIdx := strings.IndexByte(arg, ':')
	if colonIdx < 0 {
		return Location{Path: arg}
	}

	hostPart := arg[:colonIdx]
	pathPart := arg[colonIdx+1:]

	// A path separator before the colon means a local path with a colon
	// in it (e.g. "dir/file:with:colons").
	if strings.ContainsRune(hostPart, filepath.Separator) || strings.ContainsRune(hostPart, '/') {
		return Location{Path: arg}
	}
	if hostPart == "" {
		return Location{Path: arg}
	}

	var user, host string
	if atIdx := strings.LastIndexByte(hostPart, '@'); atIdx >= 0 {
		user = hostPart[:atIdx]
		host = hostPart[atIdx+1:]
	} else {
		host = hostPart
	}
	if host == "" {
		return Location{Path: arg}
	}

	return Location{
		Scheme: "sftp",
		Host:   host,
		User:   user,
		Path:   pathPart,
	}
}

// parseWebDAVURL splits a WebDAV URL into the endpoint (scheme://host[:port])
// and the remote path. webdav:// maps to http, webdavs:// to https.
func parseWebDAVURL(raw string) Location {
	normalized := raw
	switch {
	case strings.HasPrefix(raw, "webdavs://"):
		normalized = "https://" + strings.TrimPrefix(raw, "webdavs://")
	case strings.HasPrefix(raw, "webdav://"):
		normalized = "http://" + strings.TrimPrefix(raw, "webdav://")
	}

	u, err := url.Parse(normalized)
	if err != nil || u.Hostname() == "" {
		return Location{Path: raw}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	var user string
	if u.User != nil {
		user = u.User.Username()
	}

	return Location{
		Scheme: "webdav",
		Host:   u.Hostname(),
		User:   user,
		Path:   path,
		URL:    u.Scheme + "://" + u.Host,
	}
}
