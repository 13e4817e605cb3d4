package client

import (
	"fmt"
	"strings"
)

// Endpoints is the result of parsing the client's two positional CLI
// arguments per spec.md §6: exactly one of source/dest names a remote
// file as "host:filepath"; the other is a local path. IsUpload is true
// when the remote side is the destination (a WRQ), false for a download
// (RRQ, remote side is the source).
type Endpoints struct {
	LocalPath  string
	RemoteHost string
	RemoteFile string
	IsUpload   bool
}

// ParseEndpoints validates and splits source/dest. Exactly one argument
// must contain a colon; the part before the colon is the server host, the
// part after is the remote filename. Neither-remote or both-remote is a
// user error, matching spec.md §6's dispatch rule.
func ParseEndpoints(source, dest string) (Endpoints, error) {
	srcHost, srcFile, srcRemote := splitRemote(source)
	dstHost, dstFile, dstRemote := splitRemote(dest)

	switch {
	case srcRemote && dstRemote:
		return Endpoints{}, fmt.Errorf("client: only one of source/dest may be a remote host:filepath, got %q and %q", source, dest)
	case !srcRemote && !dstRemote:
		return Endpoints{}, fmt.Errorf("client: exactly one of source/dest must be a remote host:filepath, got %q and %q", source, dest)
	case srcRemote:
		return Endpoints{LocalPath: dest, RemoteHost: srcHost, RemoteFile: srcFile, IsUpload: false}, nil
	default:
		return Endpoints{LocalPath: source, RemoteHost: dstHost, RemoteFile: dstFile, IsUpload: true}, nil
	}
}

func splitRemote(s string) (host, file string, ok bool) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}
