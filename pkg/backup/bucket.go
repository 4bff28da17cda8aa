package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/chipx-network/chipx/pkg/utils"
	"go.uber.org/zap"
)

// ObjectPrefix names the raw feed backups inside the bucket:
// TDCC_<YYYYMMDD>.csv, one per ingestion run, overwritten on re-runs of the
// same day.
const ObjectPrefix = "TDCC_"

// Bucket is a client for the raw-backup object store: a write-once-per-run
// sink with upsert-overwrite on key, plus download/list so history can be
// replayed through the current normalizer.
type Bucket struct {
	base   string
	bucket string
	key    string
	http   *http.Client
	logger *zap.Logger
}

// New builds a bucket client from BACKUP_URL / BACKUP_BUCKET /
// BACKUP_SERVICE_KEY. With no BACKUP_URL the client is disabled and every
// upload becomes a logged no-op; the pipeline still runs.
func New(logger *zap.Logger, httpClient *http.Client) *Bucket {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: time.Duration(utils.EnvInt("BACKUP_TIMEOUT_SECONDS", 30)) * time.Second,
		}
	}
	return &Bucket{
		base:   strings.TrimRight(utils.Env("BACKUP_URL", ""), "/"),
		bucket: utils.Env("BACKUP_BUCKET", "tdcc_raw_files"),
		key:    utils.Env("BACKUP_SERVICE_KEY", ""),
		http:   httpClient,
		logger: logger,
	}
}

// Enabled reports whether a backup endpoint is configured.
func (b *Bucket) Enabled() bool {
	return b.base != ""
}

// Name returns the backup object key for one run date.
func Name(t time.Time) string {
	return fmt.Sprintf("%s%s.csv", ObjectPrefix, t.Format("20060102"))
}

// Upload writes one raw feed file, overwriting any object under the same
// key. The content goes up exactly as fetched, before any decoding.
func (b *Bucket) Upload(ctx context.Context, name string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.objectURL(name), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("x-upsert", "true")
	b.authorize(req)

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("backup upload %s: %w", name, err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backup upload %s: http %d", name, resp.StatusCode)
	}

	b.logger.Info("Raw feed backed up",
		zap.String("object", name),
		zap.Int("bytes", len(data)))
	return nil
}

// Download fetches one backed-up raw file byte for byte.
func (b *Bucket) Download(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL(name), nil)
	if err != nil {
		return nil, err
	}
	b.authorize(req)

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backup download %s: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = utils.DrainAndClose(resp.Body)
		return nil, fmt.Errorf("backup download %s: http %d", name, resp.StatusCode)
	}

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	if cerr := utils.DrainAndClose(resp.Body); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("backup download %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// List returns the raw backup object names, oldest first, filtered to the
// CSV files this pipeline wrote.
func (b *Bucket) List(ctx context.Context) ([]string, error) {
	payload, err := json.Marshal(map[string]any{
		"prefix": ObjectPrefix,
		"limit":  utils.EnvInt("BACKUP_LIST_LIMIT", 1000),
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/storage/v1/object/list/%s", b.base, b.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backup list: %w", err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backup list: http %d", resp.StatusCode)
	}

	var objects []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&objects); err != nil {
		return nil, fmt.Errorf("backup list: %w", err)
	}

	names := make([]string, 0, len(objects))
	for _, o := range objects {
		if strings.HasSuffix(o.Name, ".csv") {
			names = append(names, o.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *Bucket) objectURL(name string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", b.base, b.bucket, name)
}

func (b *Bucket) authorize(req *http.Request) {
	if b.key != "" {
		req.Header.Set("Authorization", "Bearer "+b.key)
	}
}
