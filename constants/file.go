package constants

import (
	"mime"
	"strings"
)

// ContentKind groups MIME types by the extraction path they take.
type ContentKind string

const (
	KindPDF         ContentKind = "PDF"         // native text layer + OCR escalation
	KindOffice      ContentKind = "OFFICE"      // docconv direct text + OCR of the PDF derivative
	KindSpreadsheet ContentKind = "SPREADSHEET" // excelize direct text + OCR of the PDF derivative
	KindText        ContentKind = "TXT"         // passthrough
	KindUnsupported ContentKind = ""
)

const (
	MimePDF  = "application/pdf"
	MimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDoc  = "application/msword"
	MimeODT  = "application/vnd.oasis.opendocument.text"
	MimeRTF  = "application/rtf"
	MimePage = "application/vnd.apple.pages"
	MimeXlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeHTML = "text/html"
	MimeText = "text/plain"
)

var kindByMime = map[string]ContentKind{
	MimePDF:             KindPDF,
	"application/x-pdf": KindPDF,
	MimeDocx:            KindOffice,
	MimeDoc:             KindOffice,
	MimeODT:             KindOffice,
	MimeRTF:             KindOffice,
	"text/rtf":          KindOffice,
	MimePage:            KindOffice,
	MimeHTML:            KindOffice,
	MimeXlsx:            KindSpreadsheet,
	MimeText:            KindText,
}

// NormalizeMime lowercases a content type and strips parameters such as charset.
func NormalizeMime(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// MapMimeToKind returns the extraction path for a content type, or KindUnsupported.
func MapMimeToKind(contentType string) ContentKind {
	return kindByMime[NormalizeMime(contentType)]
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

var mimeByExt = map[string]string{
	"pdf":   MimePDF,
	"docx":  MimeDocx,
	"doc":   MimeDoc,
	"odt":   MimeODT,
	"rtf":   MimeRTF,
	"pages": MimePage,
	"xlsx":  MimeXlsx,
	"html":  MimeHTML,
	"htm":   MimeHTML,
	"txt":   MimeText,
}

// MimeForExt returns the content type registered for a file extension, or "".
func MimeForExt(ext string) string {
	return mimeByExt[NormalizeExt(ext)]
}
