// internal/answers/answer.go

// Package answers models the loosely-typed answer payloads the form API
// returns. Each answer is decoded once into a tagged union over the known
// shapes; call sites never re-interpret raw JSON.
package answers

import (
	"encoding/json"
	"strings"
)

// Kind discriminates the decoded answer shapes.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindName
	KindPhone
	KindFiles
)

// NameParts is a structured full-name answer.
type NameParts struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// PhoneParts is a structured phone answer.
type PhoneParts struct {
	Area   string `json:"area"`
	Number string `json:"phone"`
	Full   string `json:"full"`
}

// Value is one decoded answer.
type Value struct {
	Kind  Kind
	text  string
	name  NameParts
	phone PhoneParts
	files []string
	raw   json.RawMessage
}

const (
	TypeFullName   = "control_fullname"
	TypeEmail      = "control_email"
	TypePhone      = "control_phone"
	TypeFileUpload = "control_fileupload"
)

// Decode converts one raw answer payload into a Value. Shapes that match
// none of the known variants come back as KindUnknown with the raw payload
// preserved.
func Decode(fieldType string, raw json.RawMessage) Value {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Value{Kind: KindUnknown}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return Value{Kind: KindText, text: s}
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return Value{Kind: KindFiles, files: list}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if _, ok := obj["first"]; ok || fieldType == TypeFullName {
			var name NameParts
			if err := json.Unmarshal(raw, &name); err == nil {
				return Value{Kind: KindName, name: name}
			}
		}
		if hasAny(obj, "phone", "area", "full") || fieldType == TypePhone {
			var phone PhoneParts
			if err := json.Unmarshal(raw, &phone); err == nil {
				return Value{Kind: KindPhone, phone: phone}
			}
		}
	}

	return Value{Kind: KindUnknown, raw: raw}
}

func hasAny(obj map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

// Text returns the canonical string rendering of the value. Unknown values
// render as their raw JSON so matching can still see them.
func (v Value) Text() string {
	switch v.Kind {
	case KindText:
		return v.text
	case KindName:
		return strings.TrimSpace(v.name.First + " " + v.name.Last)
	case KindPhone:
		if v.phone.Full != "" {
			return v.phone.Full
		}
		return strings.TrimSpace(v.phone.Area + v.phone.Number)
	case KindFiles:
		if len(v.files) > 0 {
			return v.files[0]
		}
		return ""
	case KindUnknown:
		return strings.Trim(string(v.raw), `"`)
	}
	return ""
}

// Name returns the structured name parts when the value is name-shaped.
func (v Value) Name() (first, last string, ok bool) {
	if v.Kind != KindName {
		return "", "", false
	}
	return v.name.First, v.name.Last, true
}

// Phone returns the structured phone parts when the value is phone-shaped.
func (v Value) Phone() (PhoneParts, bool) {
	if v.Kind != KindPhone {
		return PhoneParts{}, false
	}
	return v.phone, true
}

// FirstFile returns the first uploaded file URL, or empty when the value is
// not a file list or the list is empty.
func (v Value) FirstFile() string {
	if v.Kind != KindFiles || len(v.files) == 0 {
		return ""
	}
	return v.files[0]
}

// Contains reports whether the stringified value contains needle,
// case-insensitively.
func (v Value) Contains(needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(v.Text()), strings.ToLower(needle))
}
