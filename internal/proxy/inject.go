package proxy

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// ClientPath is where the live-reload script is served.
const ClientPath = "/__assetpipe/client.js"

// ScriptTag loads the live-reload client.
const ScriptTag = `<script src="` + ClientPath + `"></script>`

// InjectScript inserts tag before the last closing body tag of doc. Documents
// without one get the tag appended.
func InjectScript(doc []byte, tag string) []byte {
	at := -1
	offset := 0
	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				at = -1
			}
			break
		}
		raw := len(z.Raw())
		if tt == html.EndTagToken {
			name, _ := z.TagName()
			if strings.EqualFold(string(name), "body") {
				at = offset
			}
		}
		offset += raw
	}

	out := make([]byte, 0, len(doc)+len(tag))
	if at < 0 {
		out = append(out, doc...)
		return append(out, tag...)
	}
	out = append(out, doc[:at]...)
	out = append(out, tag...)
	return append(out, doc[at:]...)
}

// isHTML reports whether a Content-Type header names an HTML document.
func isHTML(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), "text/html")
}
