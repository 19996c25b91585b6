package domain

import (
	"strings"

	"github.com/google/uuid"
)

// UploadPrefix namespaces every object this pipeline issues credentials for.
const UploadPrefix = "uploads/"

// ObjectKey derives the storage location of a job's upload. safeName must
// already be sanitized.
func ObjectKey(jobID, safeName string) string {
	return UploadPrefix + jobID + "/" + safeName
}

// JobIDFromObjectKey recovers the job id from an uploads/{job_id}/{name} key.
// Keys outside the namespace report ok=false.
func JobIDFromObjectKey(key string) (string, bool) {
	if !strings.HasPrefix(key, UploadPrefix) {
		return "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(key, UploadPrefix), "/", 2)
	if len(parts) != 2 || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil || id.String() != parts[0] {
		return "", false
	}
	return parts[0], true
}
