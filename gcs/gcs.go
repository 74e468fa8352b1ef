package gcs

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"teachings/logger"
	"teachings/teachings"
)

var videoExts = map[string]bool{".mp4": true, ".mov": true, ".m4v": true, ".mkv": true, ".webm": true, ".avi": true}

func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	opts := []option.ClientOption{}
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

// Catalog lists the videos uploaded under a bucket prefix.
type Catalog struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
	prefix string
}

func NewCatalog(ctx context.Context, log *logger.Logger, bucket, prefix string) (*Catalog, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("missing video bucket name")
	}
	if log == nil {
		log = logger.Nop()
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadOnly))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Catalog{
		log:    log.With("service", "VideoCatalog", "bucket", bucket),
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (c *Catalog) Close() error {
	return c.client.Close()
}

// Entries lists the bucket and returns one entry per video object.
func (c *Catalog) Entries(ctx context.Context) ([]teachings.VideoEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := c.client.Bucket(c.bucket).Objects(ctx, &storage.Query{Prefix: c.prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing videos: %w", err)
		}
		names = append(names, attrs.Name)
	}
	entries := VideoEntries(c.bucket, names)
	c.log.Info("videos listed", "objects", len(names), "videos", len(entries))
	return entries, nil
}

// VideoEntries keeps the object names with a video extension. The entry name
// is the file stem with underscores read as spaces.
func VideoEntries(bucket string, objectNames []string) []teachings.VideoEntry {
	out := make([]teachings.VideoEntry, 0, len(objectNames))
	for _, name := range objectNames {
		ext := strings.ToLower(path.Ext(name))
		if !videoExts[ext] {
			continue
		}
		stem := strings.TrimSuffix(path.Base(name), path.Ext(name))
		if unescaped, err := url.PathUnescape(stem); err == nil {
			stem = unescaped
		}
		out = append(out, teachings.VideoEntry{
			Name:     strings.ReplaceAll(stem, "_", " "),
			VideoURL: PublicURL(bucket, name),
			GCSPath:  name,
		})
	}
	return out
}

// PublicURL is the storage.googleapis.com address of a public object.
func PublicURL(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, strings.Join(parts, "/"))
}
