package trigger

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"videojobs/internal/domain"
)

// ObjectEvent is one record of an S3 event notification.
type ObjectEvent struct {
	EventName string
	Bucket    string
	Key       string
	Size      int64
}

// ObjectCreated reports whether the record announces a successful write.
func (e ObjectEvent) ObjectCreated() bool {
	return strings.HasPrefix(strings.TrimPrefix(e.EventName, "s3:"), "ObjectCreated:")
}

type s3Notification struct {
	Event   string     `json:"Event,omitempty"`
	Records []s3Record `json:"Records"`
}

type s3Record struct {
	EventVersion string    `json:"eventVersion"`
	EventSource  string    `json:"eventSource"`
	EventTime    time.Time `json:"eventTime"`
	EventName    string    `json:"eventName"`
	S3           struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		} `json:"object"`
	} `json:"s3"`
}

// DecodeS3Event parses an S3 notification. The s3:TestEvent sent when a
// notification is configured yields no records. Object keys arrive
// form-encoded and are returned decoded.
func DecodeS3Event(body []byte) ([]ObjectEvent, error) {
	var n s3Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: s3 event: %v", domain.ErrInvalidInput, err)
	}
	if n.Event == "s3:TestEvent" {
		return nil, nil
	}
	if n.Records == nil {
		return nil, fmt.Errorf("%w: s3 event has no records", domain.ErrInvalidInput)
	}
	out := make([]ObjectEvent, 0, len(n.Records))
	for _, r := range n.Records {
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: s3 event key %q: %v", domain.ErrInvalidInput, r.S3.Object.Key, err)
		}
		out = append(out, ObjectEvent{
			EventName: r.EventName,
			Bucket:    r.S3.Bucket.Name,
			Key:       key,
			Size:      r.S3.Object.Size,
		})
	}
	return out, nil
}

// EncodeS3Event builds the notification object storage emits after a
// successful PUT, so local uploads travel the same path as S3 ones.
func EncodeS3Event(bucket, key string, size int64, at time.Time) ([]byte, error) {
	var r s3Record
	r.EventVersion = "2.1"
	r.EventSource = "aws:s3"
	r.EventTime = at.UTC()
	r.EventName = "ObjectCreated:Put"
	r.S3.Bucket.Name = bucket
	r.S3.Object.Key = encodeEventKey(key)
	r.S3.Object.Size = size
	return json.Marshal(s3Notification{Records: []s3Record{r}})
}

func encodeEventKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.QueryEscape(s)
	}
	return strings.Join(segments, "/")
}
