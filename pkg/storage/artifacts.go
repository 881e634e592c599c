package storage

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

const (
	// FolderRecordings is the S3 prefix for mirrored artifacts.
	FolderRecordings = "recordings"
	// TraceExt is the extension of the stored trace file.
	TraceExt = ".json"
)

// ArtifactTypes maps every downloadable artifact extension to its MIME type.
var ArtifactTypes = map[string]string{
	".json": "application/json",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// ArtifactName returns the file name of one artifact: {fileRoot}{ext}.
func ArtifactName(fileRoot int64, ext string) string {
	return strconv.FormatInt(fileRoot, 10) + ext
}

// ArtifactKey returns the S3 object key for an artifact: recordings/{fileRoot}{ext}.
func ArtifactKey(name string) string {
	return path.Join(FolderRecordings, path.Base(name))
}

// ParseArtifactName splits "{fileRoot}{ext}" and rejects unknown extensions.
func ParseArtifactName(name string) (int64, string, error) {
	ext := strings.ToLower(path.Ext(name))
	if _, ok := ArtifactTypes[ext]; !ok {
		return 0, "", fmt.Errorf("unsupported artifact %q", name)
	}
	root, err := strconv.ParseInt(strings.TrimSuffix(name, path.Ext(name)), 10, 64)
	if err != nil || root <= 0 {
		return 0, "", fmt.Errorf("invalid artifact file root %q", name)
	}
	return root, ext, nil
}

// ContentTypeForArtifact returns the MIME type for an artifact name.
func ContentTypeForArtifact(name string) string {
	if ct, ok := ArtifactTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
