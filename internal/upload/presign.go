package upload

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"videojobs/internal/storage"
)

// Credential lets a client write exactly one object until ExpiresAt.
type Credential struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Presigner issues write-only credentials for a single object key.
type Presigner interface {
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (Credential, error)
}

// PresignPutAPI is the subset of s3.PresignClient used by S3Presigner.
type PresignPutAPI interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Presigner issues SigV4 presigned PUT URLs.
type S3Presigner struct {
	api PresignPutAPI
	now func() time.Time
}

func NewS3Presigner(api PresignPutAPI) *S3Presigner {
	return &S3Presigner{api: api, now: time.Now}
}

func (p *S3Presigner) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (Credential, error) {
	expiresAt := p.now().Add(ttl).UTC()
	// no ContentType: it would become a signed header and force CORS preflight
	req, err := p.api.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return Credential{}, fmt.Errorf("presign put %s/%s: %w", bucket, key, err)
	}
	return Credential{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   flattenSignedHeaders(req.SignedHeader),
		ExpiresAt: expiresAt,
	}, nil
}

func flattenSignedHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if strings.EqualFold(k, "Host") {
			continue
		}
		out[k] = strings.Join(v, ",")
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// LocalPresigner issues HMAC tokens for the API's own upload endpoint.
type LocalPresigner struct {
	signer  *storage.Signer
	baseURL string
	now     func() time.Time
}

func NewLocalPresigner(signer *storage.Signer, publicBaseURL string) *LocalPresigner {
	return &LocalPresigner{
		signer:  signer,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}
}

func (p *LocalPresigner) PresignPut(_ context.Context, _ string, key string, ttl time.Duration) (Credential, error) {
	expiresAt := p.now().Add(ttl).UTC()
	token := p.signer.Sign(key, expiresAt)
	return Credential{
		URL:       p.baseURL + "/v1/uploads/" + url.PathEscape(token),
		Method:    http.MethodPut,
		ExpiresAt: expiresAt,
	}, nil
}

var (
	_ Presigner = (*S3Presigner)(nil)
	_ Presigner = (*LocalPresigner)(nil)
)
