package model

import "time"

// Task types handled by the background worker
const (
	TaskTypeArchive = "asset:archive"
)

// ArchiveJobPayload is the body of an asset:archive task. It copies a
// verified provider asset into long-term storage.
type ArchiveJobPayload struct {
	SessionID    string       `json:"sessionId"`
	RequestID    string       `json:"requestId"`
	TaskID       string       `json:"taskId"`
	ProviderKind ProviderKind `json:"providerKind"`
	AssetURL     string       `json:"assetUrl"`
	CompletedAt  time.Time    `json:"completedAt"`
}

// ArchiveKey is the object key an asset is stored under, stable per task.
func (p ArchiveJobPayload) ArchiveKey(ext string) string {
	return "generations/" + p.SessionID + "/" + string(p.ProviderKind) + "/" + p.TaskID + ext
}
