package pipeline

import (
	"bytes"
	"encoding/json"
)

// indexMap is a source map v3 "index map": one section per concatenated file.
type indexMap struct {
	Version  int       `json:"version"`
	File     string    `json:"file"`
	Sections []section `json:"sections"`
}

type section struct {
	Offset offset    `json:"offset"`
	Map    sourceMap `json:"map"`
}

type offset struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type sourceMap struct {
	Version        int      `json:"version"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// buildIndexMap maps the start of each file's section of the bundle back to
// the first line of its source. Mappings inside a section are not tracked:
// after prefixing and minifying, file granularity is what stays accurate.
func buildIndexMap(file string, sources []string, files []File, sep string) ([]byte, error) {
	m := indexMap{Version: 3, File: file, Sections: make([]section, 0, len(files))}

	line, col := 0, 0
	for i, f := range files {
		if i > 0 {
			line, col = advance(line, col, []byte(sep))
		}
		m.Sections = append(m.Sections, section{
			Offset: offset{Line: line, Column: col},
			Map: sourceMap{
				Version:        3,
				Sources:        []string{sources[i]},
				SourcesContent: []string{string(f.Original)},
				Names:          []string{},
				Mappings:       "AAAA",
			},
		})
		line, col = advance(line, col, f.Contents)
	}

	return json.Marshal(m)
}

// advance moves a zero-based line/column position past b.
func advance(line, col int, b []byte) (int, int) {
	n := bytes.Count(b, []byte("\n"))
	if n == 0 {
		return line, col + len(b)
	}
	return line + n, len(b) - bytes.LastIndexByte(b, '\n') - 1
}
