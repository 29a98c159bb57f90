package backend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ferrydev/ferry/internal/backend"
)

func TestParseLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		wantScheme string
		wantHost   string
		wantUser   string
		wantPath   string
		wantURL    string
	}{
		{
			name:     "absolute path",
			input:    "/home/user/data",
			wantPath: "/home/user/data",
		},
		{
			name:     "relative path",
			input:    "data/files",
			wantPath: "data/files",
		},
		{
			name:     "dot-relative path",
			input:    "./data/files",
			wantPath: "./data/files",
		},
		{
			name:       "user@host:path",
			input:      "user@nas:/backup/data",
			wantScheme: "sftp",
			wantHost:   "nas",
			wantUser:   "user",
			wantPath:   "/backup/data",
		},
		{
			name:       "host:path",
			input:      "nas:/backup/data",
			wantScheme: "sftp",
			wantHost:   "nas",
			wantPath:   "/backup/data",
		},
		{
			name:       "host:relative",
			input:      "myserver:files",
			wantScheme: "sftp",
			wantHost:   "myserver",
			wantPath:   "files",
		},
		{
			name:     "absolute path with colon in filename",
			input:    "/path/to/file:with:colons",
			wantPath: "/path/to/file:with:colons",
		},
		{
			name:     "relative path with colon after separator",
			input:    "dir/host:path",
			wantPath: "dir/host:path",
		},
		{
			name:     "bare colon",
			input:    ":path",
			wantPath: ":path",
		},
		{
			name:     "empty host after @",
			input:    "user@:path",
			wantPath: "user@:path",
		},
		{
			name:       "webdav URL",
			input:      "webdav://dav.example.com/remote/dir",
			wantScheme: "webdav",
			wantHost:   "dav.example.com",
			wantPath:   "/remote/dir",
			wantURL:    "http://dav.example.com",
		},
		{
			name:       "webdavs URL with port",
			input:      "webdavs://dav.example.com:8443/remote",
			wantScheme: "webdav",
			wantHost:   "dav.example.com",
			wantPath:   "/remote",
			wantURL:    "https://dav.example.com:8443",
		},
		{
			name:       "https URL",
			input:      "https://dav.example.com/files",
			wantScheme: "webdav",
			wantHost:   "dav.example.com",
			wantPath:   "/files",
			wantURL:    "https://dav.example.com",
		},
		{
			name:       "webdav URL with user",
			input:      "webdavs://alice@dav.example.com/files",
			wantScheme: "webdav",
			wantHost:   "dav.example.com",
			wantUser:   "alice",
			wantPath:   "/files",
			wantURL:    "https://dav.example.com",
		},
		{
			name:       "webdav URL bare host",
			input:      "webdav://dav.example.com",
			wantScheme: "webdav",
			wantHost:   "dav.example.com",
			wantPath:   "/",
			wantURL:    "http://dav.example.com",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			loc := backend.ParseLocation(tt.input)
			assert.Equal(t, tt.wantScheme, loc.Scheme, "Scheme")
			assert.Equal(t, tt.wantHost, loc.Host, "Host")
			assert.Equal(t, tt.wantUser, loc.User, "User")
			assert.Equal(t, tt.wantPath, loc.Path, "Path")
			assert.Equal(t, tt.wantURL, loc.URL, "URL")

			if tt.wantHost != "" {
				assert.True(t, loc.IsRemote(), "should be remote")
			} else {
				assert.False(t, loc.IsRemote(), "should be local")
			}
		})
	}
}

func TestLocation_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		loc  backend.Location
		want string
	}{
		{
			name: "local",
			loc:  backend.Location{Path: "/data/files"},
			want: "/data/files",
		},
		{
			name: "remote with user",
			loc:  backend.Location{Scheme: "sftp", Host: "nas", User: "admin", Path: "/backup"},
			want: "admin@nas:/backup",
		},
		{
			name: "remote without user",
			loc:  backend.Location{Scheme: "sftp", Host: "nas", Path: "/backup"},
			want: "nas:/backup",
		},
		{
			name: "webdav",
			loc:  backend.Location{Scheme: "webdav", Host: "dav", URL: "https://dav", Path: "/files"},
			want: "https://dav/files",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.loc.String())
		})
	}
}
