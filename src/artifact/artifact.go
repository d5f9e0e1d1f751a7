// Package artifact publishes build output and returns a link to it.
package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"serf-ci/src/sanitize"
)

// Creator stores a set of named text files and returns a URL for them.
type Creator interface {
	Create(ctx context.Context, description string, files map[string]string) (string, error)
}

// GistAPI is the subset of the GitHub client used by GistCreator.
type GistAPI interface {
	CreateGist(ctx context.Context, description string, files map[string]string) (string, error)
}

// GistCreator publishes artifacts as GitHub gists.
type GistCreator struct {
	api GistAPI
}

// NewGistCreator returns a Creator backed by gists.
func NewGistCreator(api GistAPI) *GistCreator {
	return &GistCreator{api: api}
}

// Create uploads sanitized copies of files as a single gist.
func (g *GistCreator) Create(ctx context.Context, description string, files map[string]string) (string, error) {
	url, err := g.api.CreateGist(ctx, description, sanitizeAll(files))
	if err != nil {
		return "", fmt.Errorf("failed to create gist: %w", err)
	}
	return url, nil
}

// S3Client captures the subset of the AWS SDK client used by S3Creator.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Creator publishes artifacts as objects in an S3 bucket.
type S3Creator struct {
	client  S3Client
	bucket  string
	baseURL string
	newID   func() string
}

// NewS3Creator returns a Creator writing to bucket. baseURL is the public
// prefix for object links; empty means the virtual-hosted S3 endpoint.
func NewS3Creator(client S3Client, bucket, baseURL string) *S3Creator {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	return &S3Creator{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		newID:   uuid.NewString,
	}
}

// Create writes each file under serf/{id}/{name} and returns the URL of the
// first file by name.
func (c *S3Creator) Create(ctx context.Context, description string, files map[string]string) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("no files to upload")
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	prefix := "serf/" + c.newID()
	for _, name := range names {
		key := prefix + "/" + name
		_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(c.bucket),
			Key:         aws.String(key),
			Body:        strings.NewReader(sanitize.BuildOutput(files[name])),
			ContentType: aws.String("text/plain; charset=utf-8"),
			Metadata:    map[string]string{"description": asciiOnly(description)},
		})
		if err != nil {
			return "", fmt.Errorf("failed to upload %s: %w", key, err)
		}
	}

	return c.baseURL + "/" + prefix + "/" + names[0], nil
}

func sanitizeAll(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for name, content := range files {
		out[name] = sanitize.BuildOutput(content)
	}
	return out
}

// asciiOnly drops characters S3 rejects in user metadata.
func asciiOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return -1
		}
		return r
	}, s)
}
