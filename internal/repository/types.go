// Package repository holds the registered remote repositories and resolves
// arbitrary file paths to the repository (and credentials) that owns them.
package repository

import (
	"fmt"
	"log/slog"
	"strings"
)

// Type identifies the transport family a repository is reached through.
type Type string

// Repository types. The string values match the provider keys used by the
// dispatcher and the names accepted in configuration files.
const (
	TypeLocal            Type = "LOCAL"
	TypeSharedFolder     Type = "SHARED FOLDER"
	TypeSharePoint       Type = "SHAREPOINT"
	TypeAzureFileStorage Type = "AUZREFS" // historical spelling, kept for config compatibility
	TypeAzureBlobStorage Type = "AZUREBS"
)

var typeDisplay = map[Type]string{
	TypeLocal:            "Local Drive",
	TypeSharedFolder:     "Shared Folder",
	TypeSharePoint:       "Sharepoint",
	TypeAzureFileStorage: "Azure File Storage",
	TypeAzureBlobStorage: "Azure Blob Storage",
}

// Types lists every repository type in declaration order.
func Types() []Type {
	return []Type{TypeLocal, TypeSharedFolder, TypeSharePoint, TypeAzureFileStorage, TypeAzureBlobStorage}
}

// DisplayName returns the human-readable name, e.g. "Shared Folder".
func (t Type) DisplayName() string {
	if d, ok := typeDisplay[t]; ok {
		return d
	}

	return string(t)
}

// Valid reports whether t is a known repository type.
func (t Type) Valid() bool {
	_, ok := typeDisplay[t]
	return ok
}

// ParseType accepts either the key ("SHARED FOLDER") or the display name
// ("Shared Folder"), case-insensitively.
func ParseType(s string) (Type, error) {
	for t, display := range typeDisplay {
		if strings.EqualFold(s, string(t)) || strings.EqualFold(s, display) {
			return t, nil
		}
	}

	return "", fmt.Errorf("repository: unknown repository type %q", s)
}

// AuthKind selects how credentials are turned into a session.
type AuthKind string

// Authentication kinds.
const (
	AuthBasic            AuthKind = "Basic"
	AuthDigest           AuthKind = "Digest"
	AuthSharePointOnline AuthKind = "Sharepoint Online"
	AuthNTLM             AuthKind = "NTLM"
	AuthCIFS             AuthKind = "CIFS"
	AuthCloudKey         AuthKind = "Azure Storage"
)

var authKinds = []AuthKind{AuthBasic, AuthDigest, AuthSharePointOnline, AuthNTLM, AuthCIFS, AuthCloudKey}

// AuthKinds lists every authentication kind.
func AuthKinds() []AuthKind {
	out := make([]AuthKind, len(authKinds))
	copy(out, authKinds)

	return out
}

// ParseAuthKind matches s case-insensitively against the kind names.
// "sharepoint_online", "cloudkey" and "azure" are accepted as aliases.
func ParseAuthKind(s string) (AuthKind, error) {
	for _, k := range authKinds {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}

	switch strings.ToLower(s) {
	case "sharepoint_online", "sharepointonline", "spo":
		return AuthSharePointOnline, nil
	case "cloudkey", "cloud_key", "azure":
		return AuthCloudKey, nil
	}

	return "", fmt.Errorf("repository: unknown auth kind %q", s)
}

// Credentials authenticate against one repository. Secret is never
// rendered by String or LogValue.
type Credentials struct {
	Domain   string
	Username string
	Secret   string
	Kind     AuthKind
}

// String implements fmt.Stringer with the secret redacted.
func (c Credentials) String() string {
	return fmt.Sprintf("[%s,%s,%s,%s]", c.Kind, c.Domain, c.Username, redact(c.Secret))
}

// LogValue implements slog.LogValuer with the secret redacted.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(c.Kind)),
		slog.String("domain", c.Domain),
		slog.String("username", c.Username),
		slog.String("secret", redact(c.Secret)),
	)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}

	return "***"
}

// Repository is a registered remote location. Path holds the canonical
// form and is the registry key. Creds is nil for repositories that were
// registered without credentials (accessed unauthenticated).
type Repository struct {
	Path  string
	Type  Type
	Creds *Credentials
}

// Authenticated reports whether the repository carries credentials.
func (r Repository) Authenticated() bool {
	return r.Creds != nil
}
