package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestLines(t *testing.T) {
	assert.Equal(t, "LIST u1", ListRequest("u1"))
	assert.Equal(t, "DOWNLOAD_FROM u1 my photo.jpg", DownloadFromRequest("u1", "my photo.jpg"))
	assert.Equal(t, "DOWNLOAD_ALL_FROM u1", DownloadAllFromRequest("u1"))
	assert.Equal(t, "UPLOAD_TO u1 a.jpg", UploadToRequest("u1", "a.jpg"))
	assert.Equal(t, "UPLOAD_ALL_TO u1 3", UploadAllToRequest("u1", 3))
	assert.Equal(t, "DELETE_FROM u1 a.jpg", DeleteFromRequest("u1", "a.jpg"))
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"10000", 10000, false},
		{"0", 0, false},
		{"-1", NotFoundSize, false},
		{" 42\n", 42, false},
		{"-2", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrProtocol))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCount(t *testing.T) {
	n, err := ParseCount("3")
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = ParseCount("-1")
	assert.True(t, errors.Is(err, ErrProtocol))

	_, err = ParseCount("All files downloaded successfully!")
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestParseFileHeader(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantSize int64
		wantErr  bool
	}{
		{"a.jpg:10000", "a.jpg", 10000, false},
		{"empty.txt:0", "empty.txt", 0, false},
		{"12:30 notes.txt:5", "12:30 notes.txt", 5, false},
		{"no-size", "", 0, true},
		{"a.jpg:", "", 0, true},
		{"a.jpg:-1", "", 0, true},
		{"a.jpg:12x", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, size, err := ParseFileHeader(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrProtocol))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantSize, size)
		})
	}
}

func TestFileHeaderRoundTrip(t *testing.T) {
	name, size, err := ParseFileHeader(FormatFileHeader("x:y.png", 7))
	assert.NoError(t, err)
	assert.Equal(t, "x:y.png", name)
	assert.Equal(t, int64(7), size)
}

func TestParseListing(t *testing.T) {
	assert.Equal(t, []string{"a.jpg", "b.png"}, ParseListing("a.jpg\nb.png\n"))
	assert.Equal(t, []string{"a.jpg", "b.png"}, ParseListing("a.jpg\r\n\nb.png"))
	assert.Equal(t, []string{}, ParseListing(""))
	assert.Equal(t, []string{}, ParseListing("Directory not found"))
	assert.NotNil(t, ParseListing("\n"))
}

func TestStatusMarkers(t *testing.T) {
	assert.True(t, IsDeleteSuccess("File a.jpg deleted successfully from u1!"))
	assert.False(t, IsDeleteSuccess("File not found"))
	assert.True(t, IsUploadSuccess("File uploaded successfully to u1!"))
	assert.False(t, IsUploadSuccess("Error"))
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection("Invalid directory path\n"))
	assert.True(t, IsRejection("Invalid command!"))
	assert.False(t, IsRejection("Invalid directory path.jpg"))
	assert.False(t, IsRejection("a.jpg"))
}
