package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNotEnvelope is returned by ParseContent for plain-text content.
var ErrNotEnvelope = errors.New("content is not a json envelope")

// AttachmentFile is a file reference embedded in a message envelope.
type AttachmentFile struct {
	FileName       string
	UniqueFileName string
	URL            string
	Type           string
	Size           int64

	// Extra holds the fields not modelled above so a rewrite keeps them.
	Extra map[string]json.RawMessage
}

// Key returns the attachment cache key: the storage name when the server has
// assigned one, otherwise the original file name.
func (f AttachmentFile) Key() string {
	if f.UniqueFileName != "" {
		return f.UniqueFileName
	}
	return f.FileName
}

type attachmentFields struct {
	FileName       string `json:"fileName"`
	UniqueFileName string `json:"uniqueFileName,omitempty"`
	URL            string `json:"url,omitempty"`
	Type           string `json:"type,omitempty"`
	Size           int64  `json:"size,omitempty"`
}

var attachmentKeys = []string{"fileName", "uniqueFileName", "url", "type", "size"}

func (f *AttachmentFile) UnmarshalJSON(data []byte) error {
	var known attachmentFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := unknownFields(data, attachmentKeys)
	if err != nil {
		return err
	}
	*f = AttachmentFile{
		FileName:       known.FileName,
		UniqueFileName: known.UniqueFileName,
		URL:            known.URL,
		Type:           known.Type,
		Size:           known.Size,
		Extra:          extra,
	}
	return nil
}

func (f AttachmentFile) MarshalJSON() ([]byte, error) {
	return mergeFields(attachmentFields{
		FileName:       f.FileName,
		UniqueFileName: f.UniqueFileName,
		URL:            f.URL,
		Type:           f.Type,
		Size:           f.Size,
	}, f.Extra)
}

// Content is the serialized message envelope.
type Content struct {
	Text  string
	Files []AttachmentFile

	// Extra holds envelope fields other than text and files.
	Extra map[string]json.RawMessage
}

type contentFields struct {
	Text  string           `json:"text"`
	Files []AttachmentFile `json:"files,omitempty"`
}

var contentKeys = []string{"text", "files"}

func (c *Content) UnmarshalJSON(data []byte) error {
	var known contentFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := unknownFields(data, contentKeys)
	if err != nil {
		return err
	}
	*c = Content{Text: known.Text, Files: known.Files, Extra: extra}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	return mergeFields(contentFields{Text: c.Text, Files: c.Files}, c.Extra)
}

// ParseContent decodes a message envelope.
func ParseContent(raw string) (Content, error) {
	var c Content
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return c, ErrNotEnvelope
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Content{}, err
	}
	return c, nil
}

// Encode serializes the envelope back into message content. Unknown fields
// are written back unchanged and HTML characters are not escaped.
func (c Content) Encode() string {
	data, err := encodeJSON(c)
	if err != nil {
		return ""
	}
	return string(data)
}

// unknownFields returns the members of a JSON object whose keys match none of
// known. Keys match case-insensitively, as encoding/json does for structs.
func unknownFields(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k := range all {
		for _, name := range known {
			if strings.EqualFold(k, name) {
				delete(all, k)
				break
			}
		}
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// mergeFields encodes known and adds the extra members it does not set.
func mergeFields(known any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := encodeJSON(known)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, set := out[k]; !set {
			out[k] = v
		}
	}
	return encodeJSON(out)
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
