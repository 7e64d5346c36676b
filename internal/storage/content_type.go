package storage

import (
	"net/http"
	"path"
	"strings"
)

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
	".txt":  "text/plain",
}

// ContentType resolves the media type of an object. A declared type wins unless
// it is the generic octet-stream, then the extension, then content sniffing.
func ContentType(declared, name string, body []byte) string {
	declared = strings.TrimSpace(strings.SplitN(declared, ";", 2)[0])
	if declared != "" && declared != "application/octet-stream" && declared != "binary/octet-stream" {
		return declared
	}
	if ct, ok := extensionTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	if len(body) > 0 {
		return strings.SplitN(http.DetectContentType(body), ";", 2)[0]
	}
	return "application/octet-stream"
}
