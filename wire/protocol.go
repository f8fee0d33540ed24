package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Command vocabulary of the storage server. Every command is a single line;
// arguments are separated by one space and the last argument may itself
// contain spaces (file names).
const (
	CmdList            = "LIST"
	CmdDownloadFrom    = "DOWNLOAD_FROM"
	CmdDownloadAllFrom = "DOWNLOAD_ALL_FROM"
	CmdUploadTo        = "UPLOAD_TO"
	CmdUploadAllTo     = "UPLOAD_ALL_TO"
	CmdDeleteFrom      = "DELETE_FROM"
	CmdQuit            = "QUIT"
)

// Flow-control tokens, sent without terminator by both sides.
const (
	TokenReady = "READY"
	TokenNext  = "NEXT"
)

const (
	// NotFoundSize is announced instead of a size when the requested file does not exist.
	NotFoundSize int64 = -1

	// DirectoryNotFound is the LIST response for a namespace that doesn't exist.
	DirectoryNotFound = "Directory not found"

	// DeleteSuccessMarker is the only signal that DELETE_FROM succeeded; the
	// server has no status code for it.
	DeleteSuccessMarker = "deleted successfully"

	// UploadSuccessMarker appears in the status line of a successful UPLOAD_TO.
	UploadSuccessMarker = "uploaded successfully"

	// DefaultChunkSize is the payload write size used for uploads.
	DefaultChunkSize = 4096
)

func ListRequest(user string) string {
	return CmdList + " " + user
}

func DownloadFromRequest(user, name string) string {
	return fmt.Sprintf("%s %s %s", CmdDownloadFrom, user, name)
}

// DownloadAllFromRequest only names the directory: the file count is announced
// by the server, not requested by the client.
func DownloadAllFromRequest(user string) string {
	return CmdDownloadAllFrom + " " + user
}

func UploadToRequest(user, name string) string {
	return fmt.Sprintf("%s %s %s", CmdUploadTo, user, name)
}

func UploadAllToRequest(user string, count int) string {
	return fmt.Sprintf("%s %s %d", CmdUploadAllTo, user, count)
}

func DeleteFromRequest(user, name string) string {
	return fmt.Sprintf("%s %s %s", CmdDeleteFrom, user, name)
}

// ParseSize parses a declared size. NotFoundSize is accepted, any other
// negative value is a protocol error.
func ParseSize(line string) (int64, error) {
	s := strings.TrimSpace(line)
	size, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: could not parse size: %q", ErrProtocol, s)
	}
	if size < NotFoundSize {
		return 0, fmt.Errorf("%w: invalid size %d", ErrProtocol, size)
	}
	return size, nil
}

// ParseCount parses the file count announced for a batch download.
func ParseCount(line string) (int, error) {
	s := strings.TrimSpace(line)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: could not parse file count: %q", ErrProtocol, s)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: invalid file count %d", ErrProtocol, n)
	}
	return n, nil
}

// FormatFileHeader encodes the per-file header of a batch transfer.
func FormatFileHeader(name string, size int64) string {
	return name + ":" + strconv.FormatInt(size, 10)
}

// ParseFileHeader decodes "name:size". The size follows the last colon so
// names containing colons still round-trip.
func ParseFileHeader(line string) (name string, size int64, err error) {
	line = strings.TrimRight(line, "\r\n")
	i := strings.LastIndexByte(line, ':')
	if i < 0 {
		return "", 0, fmt.Errorf("%w: malformed file header: %q", ErrProtocol, line)
	}
	name = line[:i]
	size, err = strconv.ParseInt(strings.TrimSpace(line[i+1:]), 10, 64)
	if err != nil || size < 0 {
		return "", 0, fmt.Errorf("%w: malformed size in file header: %q", ErrProtocol, line)
	}
	return name, size, nil
}

// ParseListing splits a LIST response into file names. An empty response and
// DirectoryNotFound both mean an empty listing.
func ParseListing(resp string) []string {
	files := make([]string, 0)
	trimmed := strings.TrimSpace(resp)
	if trimmed == "" || trimmed == DirectoryNotFound {
		return files
	}
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		files = append(files, line)
	}
	return files
}

var rejections = map[string]bool{
	"Invalid directory path":  true,
	"Invalid command format":  true,
	"Invalid number of files": true,
	"Invalid command!":        true,
}

// IsRejection reports whether resp is the server refusing the command rather
// than answering it.
func IsRejection(resp string) bool {
	return rejections[strings.TrimSpace(resp)]
}

func IsDeleteSuccess(msg string) bool {
	return strings.Contains(msg, DeleteSuccessMarker)
}

func IsUploadSuccess(msg string) bool {
	return strings.Contains(msg, UploadSuccessMarker)
}
