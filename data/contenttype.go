package data

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

type ContentType string

const (
	ContentTypeTextPlain         ContentType = "text/plain"
	ContentTypeTextMarkdown      ContentType = "text/markdown"
	ContentTypeTextHTML          ContentType = "text/html"
	ContentTypeTextCSS           ContentType = "text/css"
	ContentTypeTextJavaScript    ContentType = "text/javascript"
	ContentTypeTextCSV           ContentType = "text/csv"
	ContentTypeImageJPEG         ContentType = "image/jpeg"
	ContentTypeImagePNG          ContentType = "image/png"
	ContentTypeImageGIF          ContentType = "image/gif"
	ContentTypeImageWebP         ContentType = "image/webp"
	ContentTypeImageSVGXML       ContentType = "image/svg+xml"
	ContentTypeAudioMpeg         ContentType = "audio/mpeg"
	ContentTypeAudioWAV          ContentType = "audio/wav"
	ContentTypeVideoMP4          ContentType = "video/mp4"
	ContentTypeApplicationPDF    ContentType = "application/pdf"
	ContentTypeApplicationZip    ContentType = "application/zip"
	ContentTypeApplicationGZip   ContentType = "application/gzip"
	ContentTypeApplicationJson   ContentType = "application/json"
	ContentTypeApplicationXML    ContentType = "application/xml"
	ContentTypeApplicationDocx   ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeApplicationXlsx   ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeApplicationStream ContentType = "application/octet-stream"
	ContentTypeDirectory         ContentType = "application/x-directory"
)

// ExtensionToMIME maps lower-case file extensions to MIME types
var ExtensionToMIME = map[string]ContentType{
	".txt":  ContentTypeTextPlain,
	".md":   ContentTypeTextMarkdown,
	".html": ContentTypeTextHTML,
	".css":  ContentTypeTextCSS,
	".js":   ContentTypeTextJavaScript,
	".csv":  ContentTypeTextCSV,
	".jpg":  ContentTypeImageJPEG,
	".jpeg": ContentTypeImageJPEG,
	".png":  ContentTypeImagePNG,
	".gif":  ContentTypeImageGIF,
	".webp": ContentTypeImageWebP,
	".svg":  ContentTypeImageSVGXML,
	".mp3":  ContentTypeAudioMpeg,
	".wav":  ContentTypeAudioWAV,
	".mp4":  ContentTypeVideoMP4,
	".pdf":  ContentTypeApplicationPDF,
	".zip":  ContentTypeApplicationZip,
	".gz":   ContentTypeApplicationGZip,
	".json": ContentTypeApplicationJson,
	".xml":  ContentTypeApplicationXML,
	".docx": ContentTypeApplicationDocx,
	".xlsx": ContentTypeApplicationXlsx,
}

// GetMIMEType returns the MIME type registered for the extension of name
func GetMIMEType(name string) ContentType {
	if mimeType, exists := ExtensionToMIME[Ext(name)]; exists {
		return mimeType
	}

	return ContentTypeApplicationStream
}

// DetectContentType resolves the MIME type of name, falling back to sniffing head
// when the extension is unknown.
func DetectContentType(name string, head []byte) string {
	if mimeType, exists := ExtensionToMIME[Ext(name)]; exists {
		return string(mimeType)
	}
	if len(head) == 0 {
		return string(ContentTypeApplicationStream)
	}

	detected := mimetype.Detect(head).String()
	// Strip parameters like "; charset=utf-8"
	if idx := strings.IndexByte(detected, ';'); idx >= 0 {
		detected = strings.TrimSpace(detected[:idx])
	}

	return detected
}
