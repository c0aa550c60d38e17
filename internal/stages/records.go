package stages

import "time"

// File is emitted by the files source
type File struct {
	Path    string    `json:"path"`
	Rel     string    `json:"rel"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Content []byte    `json:"content,omitempty"`
}

// Document is the text extracted from a File
type Document struct {
	Path    string    `json:"path"`
	MIME    string    `json:"mime"`
	Charset string    `json:"charset,omitempty"`
	Title   string    `json:"title,omitempty"`
	Text    string    `json:"text,omitempty"`
	Words   int       `json:"words"`
	Size    int64     `json:"size"`
	Digest  string    `json:"digest"`
	ModTime time.Time `json:"mod_time"`
}

// Row is a generic record, one column per key
type Row map[string]any
